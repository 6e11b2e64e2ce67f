// Package relay implements the server side of the chat protocol: the
// per-connection session state machine, the registry of connected users,
// and the router that turns decoded frames into deliveries, history writes
// and roster updates.
package relay

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"chat-relay/transport"
	"chat-relay/wire"
)

type sessionState int

const (
	statePending sessionState = iota
	stateRegistered
	stateClosed
)

// frameSender is the slice of transport.Conn a session needs. Tests swap in
// a capture.
type frameSender interface {
	Write(env wire.Envelope) error
	WriteFinal(env wire.Envelope) error
	Close() error
}

// sessionEvents is consumed by the Router, which owns all cross-session
// state. A session never touches the registry directly.
type sessionEvents interface {
	sessionRegistered(s *Session, username string)
	sessionChat(from, to, text string)
	sessionHistoryRequest(requester, with string)
}

// Session tracks one accepted connection from accept to close. Frames are
// handled on the connection's read loop, strictly in arrival order.
type Session struct {
	id     uuid.UUID
	log    transport.Logger
	events sessionEvents

	mu       sync.Mutex
	out      frameSender
	state    sessionState
	username string
}

func newSession(log transport.Logger, events sessionEvents) *Session {
	return &Session{
		id:     uuid.New(),
		log:    log,
		events: events,
	}
}

// ID identifies the session before it has a username.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Username returns the registered username, empty while pending.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) attach(out frameSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = out
}

// markRegistered is called by the Registry with its lock held, so the
// transition is atomic with the map move.
func (s *Session) markRegistered(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRegistered
	s.username = username
}

func (s *Session) registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRegistered
}

// send queues a frame, fire-and-forget. Delivery to a slow or absent peer
// is best-effort by design; a full buffer drops the frame.
func (s *Session) send(env wire.Envelope) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out == nil {
		return
	}
	if err := out.Write(env); err != nil {
		s.log.Warn("send failed", "session", s.id, "type", env.Type, "error", err)
	}
}

// sendFinal writes a frame straight to the socket and closes the session.
// Used for teardown frames (registration errors, kicks) that must reach
// the peer before the connection dies.
func (s *Session) sendFinal(env wire.Envelope) {
	s.mu.Lock()
	out := s.out
	s.state = stateClosed
	s.mu.Unlock()
	if out == nil {
		return
	}
	if err := out.WriteFinal(env); err != nil {
		s.log.Warn("final send failed", "session", s.id, "type", env.Type, "error", err)
	}
	_ = out.Close()
}

// close tears the connection down without a goodbye frame.
func (s *Session) close() {
	s.mu.Lock()
	out := s.out
	s.state = stateClosed
	s.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
}

// handleFrame dispatches one decoded frame according to the registration
// state machine. Unknown frame types are ignored so newer clients keep
// working against this server.
func (s *Session) handleFrame(env wire.Envelope) error {
	switch env.Type {
	case wire.TypeRegister:
		s.handleRegister(env)
	case wire.TypeChat:
		s.handleChat(env)
	case wire.TypeRequestHistory:
		s.handleHistoryRequest(env)
	default:
		s.log.Debug("ignoring frame", "session", s.id, "type", env.Type)
	}
	return nil
}

func (s *Session) handleRegister(env wire.Envelope) {
	if s.registered() {
		s.log.Warn("duplicate registration ignored", "session", s.id, "username", s.Username())
		return
	}

	username := strings.TrimSpace(env.Username)
	if username == "" {
		s.log.Warn("registration with empty username", "session", s.id)
		s.sendFinal(wire.Error("Invalid username"))
		return
	}

	s.events.sessionRegistered(s, username)
}

func (s *Session) handleChat(env wire.Envelope) {
	// Messages before registration are dropped, not answered: the peer is
	// not considered malicious enough to disconnect, just early.
	if !s.registered() {
		s.log.Warn("chat from unregistered session dropped", "session", s.id)
		return
	}

	if env.From != s.Username() {
		s.log.Warn("sender mismatch, frame dropped",
			"session", s.id, "claimed", env.From, "registered", s.Username())
		return
	}

	s.events.sessionChat(env.From, env.To, env.Text)
}

func (s *Session) handleHistoryRequest(env wire.Envelope) {
	if !s.registered() {
		s.log.Warn("history request from unregistered session dropped", "session", s.id)
		return
	}
	s.events.sessionHistoryRequest(s.Username(), env.With)
}
