package relay

import (
	"time"

	"github.com/samber/lo"

	"chat-relay/history"
	"chat-relay/transport"
	"chat-relay/wire"
)

// SystemSender is the reserved identity for server-originated messages.
const SystemSender = "SERVER"

// Hooks is the event surface the admin UI subscribes to. Callbacks fire
// after the corresponding state change has committed; nil callbacks are
// skipped.
type Hooks struct {
	ClientConnected    func(username string)
	ClientDisconnected func(username string)
	MessageReceived    func(from, to, text string)
}

// Router dispatches decoded protocol traffic: private delivery with history
// persistence, fanout of broadcasts and alerts, kicks, and roster updates.
// It is the only component holding cross-session state.
type Router struct {
	registry *Registry
	store    *history.Store
	log      transport.Logger
	hooks    Hooks
}

// NewRouter wires a router over a registry and a history store.
func NewRouter(registry *Registry, store *history.Store, log transport.Logger, hooks Hooks) *Router {
	return &Router{
		registry: registry,
		store:    store,
		log:      log,
		hooks:    hooks,
	}
}

// RouteChat persists a private message and delivers it to both parties.
// The history append happens before any delivery, so a recorded message is
// durable even if neither peer is reachable. Absent recipients are not an
// error; undelivered messages are simply not echoed to them.
func (r *Router) RouteChat(from, to, text string) {
	m := wire.NewMessage(from, to, text)

	if err := r.store.Append(history.ConversationID(from, to), m); err != nil {
		// A failed save must not block delivery.
		r.log.Error("history append failed", "from", from, "to", to, "error", err)
	}

	env := wire.Chat(m)
	if s, ok := r.registry.Lookup(to); ok {
		s.send(env)
	}
	// Echo back to the sender as delivery confirmation; the client renders
	// its own messages from this echo.
	if s, ok := r.registry.Lookup(from); ok {
		s.send(env)
	}

	r.log.Info("routed message", "from", from, "to", to)
	if r.hooks.MessageReceived != nil {
		r.hooks.MessageReceived(from, to, text)
	}
}

// Broadcast fans a server message out to every active session. Broadcasts
// are never written to conversation history.
func (r *Router) Broadcast(text string) {
	r.fanout(text, wire.Broadcast)
	r.log.Info("broadcast sent", "text", text)
	if r.hooks.MessageReceived != nil {
		r.hooks.MessageReceived(SystemSender, "", text)
	}
}

// Alert fans an administrative notice out to every active session.
func (r *Router) Alert(text string) {
	r.fanout(text, wire.ServerAlert)
	r.log.Info("alert sent", "text", text)
}

func (r *Router) fanout(text string, kind wire.Kind) {
	env := systemEnvelope(text, kind)
	for _, s := range r.registry.ActiveSessions() {
		s.send(env)
	}
}

func systemEnvelope(text string, kind wire.Kind) wire.Envelope {
	return wire.Chat(wire.Message{
		From:      SystemSender,
		Text:      text,
		Timestamp: time.Now(),
		Kind:      kind,
	})
}

// shutdown delivers a closing notice to every registered client and closes
// every connection, registered or not. The notice goes out as a direct
// final write; a frame merely queued at this point would be lost when the
// write loop is torn down.
func (r *Router) shutdown(text string) {
	env := systemEnvelope(text, wire.ServerAlert)
	for _, s := range r.registry.ActiveSessions() {
		s.sendFinal(env)
	}
	for _, s := range r.registry.PendingSessions() {
		s.close()
	}
}

// Kick sends a kick frame to a user and force-closes their session.
// A no-op when the user is not connected.
func (r *Router) Kick(username, reason string) {
	s, ok := r.registry.Lookup(username)
	if !ok {
		return
	}
	s.sendFinal(wire.Kick(reason))
	r.log.Info("kicked user", "username", username, "reason", reason)
}

// RequestHistory loads the full conversation between requester and another
// user and sends it to the requester only.
func (r *Router) RequestHistory(requester, with string) {
	messages := r.store.Load(history.ConversationID(requester, with))
	payloads := lo.Map(messages, func(m wire.Message, _ int) wire.MessagePayload {
		return m.Payload()
	})

	if s, ok := r.registry.Lookup(requester); ok {
		s.send(wire.ChatHistory(with, payloads))
	}
	r.log.Info("history served", "requester", requester, "with", with, "count", len(payloads))
}

// Usernames returns the current sorted roster.
func (r *Router) Usernames() []string {
	return r.registry.Usernames()
}

func (r *Router) broadcastUserList() {
	env := wire.UserList(r.registry.Usernames())
	for _, s := range r.registry.ActiveSessions() {
		s.send(env)
	}
}

// sessionRegistered resolves a registration attempt. The losing side of a
// name race gets an error frame and is closed; the existing session is
// untouched.
func (r *Router) sessionRegistered(s *Session, username string) {
	if !r.registry.Claim(username, s) {
		r.log.Warn("username taken", "session", s.ID(), "username", username)
		s.sendFinal(wire.Error("Username already taken"))
		return
	}

	r.log.Info("client registered", "username", username)
	if r.hooks.ClientConnected != nil {
		r.hooks.ClientConnected(username)
	}
	// Roster goes out only after the registry mutation is visible.
	r.broadcastUserList()
}

func (r *Router) sessionChat(from, to, text string) {
	r.RouteChat(from, to, text)
}

func (r *Router) sessionHistoryRequest(requester, with string) {
	r.RequestHistory(requester, with)
}

// sessionClosed finalizes a connection teardown: the session leaves the
// registry, and if it held a username the remaining clients get a fresh
// roster.
func (r *Router) sessionClosed(s *Session) {
	username, wasActive := r.registry.Remove(s)
	if !wasActive {
		r.log.Debug("pending connection closed", "session", s.ID())
		return
	}

	r.log.Info("client disconnected", "username", username)
	if r.hooks.ClientDisconnected != nil {
		r.hooks.ClientDisconnected(username)
	}
	r.broadcastUserList()
}
