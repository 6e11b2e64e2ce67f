// Package client implements the client endpoint of the relay protocol:
// it connects, registers automatically, sends chat and history requests,
// and turns inbound frames into typed events for its caller.
package client

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"chat-relay/history"
	"chat-relay/transport"
	"chat-relay/wire"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("not connected to server")

// Handler receives the client's events. Dispatch runs on the connection's
// read goroutine; handlers that block stall frame processing.
// Embed BaseHandler to pick only the events you care about.
type Handler interface {
	Connected()
	Disconnected()
	MessageReceived(m wire.Message)
	HistoryReceived(with string, messages []wire.Message)
	RosterUpdated(users []string)
	Kicked(reason string)
	ErrorReceived(message string)
}

// BaseHandler is a no-op implementation of Handler.
type BaseHandler struct{}

func (BaseHandler) Connected()                             {}
func (BaseHandler) Disconnected()                          {}
func (BaseHandler) MessageReceived(wire.Message)           {}
func (BaseHandler) HistoryReceived(string, []wire.Message) {}
func (BaseHandler) RosterUpdated([]string)                 {}
func (BaseHandler) Kicked(string)                          {}
func (BaseHandler) ErrorReceived(string)                   {}

type options struct {
	logger        transport.Logger
	cache         *history.Store
	maxFrameBytes int
	sendBuffer    int
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the client logger.
func WithLogger(logger transport.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLocalCache mirrors received private messages and fetched histories
// into a local store, keyed exactly like the server's.
func WithLocalCache(cache *history.Store) Option {
	return func(o *options) { o.cache = cache }
}

// WithMaxFrameBytes caps frame payload sizes in both directions.
func WithMaxFrameBytes(max int) Option {
	return func(o *options) { o.maxFrameBytes = max }
}

// WithSendBuffer sets the outbound frame queue length.
func WithSendBuffer(size int) Option {
	return func(o *options) { o.sendBuffer = size }
}

// Client is one connection to a relay server on behalf of one username.
// Reconnection after a drop is the caller's decision, not the client's.
type Client struct {
	username string
	handler  Handler
	opts     options
	log      transport.Logger

	mu   sync.Mutex
	conn *transport.Conn
}

// New builds a client for a username. Connect must be called before any
// send operation.
func New(username string, handler Handler, opt ...Option) *Client {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = transport.DefaultLogger()
	}

	return &Client{
		username: username,
		handler:  handler,
		opts:     opts,
		log:      opts.logger,
	}
}

// Username returns the identity this client registers as.
func (c *Client) Username() string {
	return c.username
}

// Connect dials the server, starts the connection loops and sends the
// registration frame. The Connected event fires once registration is on
// the wire; a name conflict arrives later as an error event followed by
// disconnection.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return errors.New("already connected")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	raw, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}

	conn, err := transport.NewConn(raw,
		transport.WithCodec(wire.Codec{MaxFrameBytes: c.opts.maxFrameBytes}),
		transport.WithSendBuffer(c.opts.sendBuffer),
		transport.WithLogger(c.log),
		transport.WithOnFrame(c.dispatch),
		transport.WithOnError(func(err error) transport.ErrorAction {
			if errors.Is(err, wire.ErrMalformedPayload) {
				return transport.Continue
			}
			return transport.Disconnect
		}),
	)
	if err != nil {
		_ = raw.Close()
		return err
	}
	c.conn = conn

	go func() {
		_ = conn.Run(ctx)
		c.log.Info("disconnected from server", "addr", addr)
		c.handler.Disconnected()
	}()

	if err := conn.Write(wire.Register(c.username)); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "send registration")
	}

	c.log.Info("connected to server", "addr", addr, "username", c.username)
	c.handler.Connected()
	return nil
}

// Close tears the connection down. Safe to call when not connected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected reports whether the connection is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) live() (*transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// SendChat sends a private message. The message is rendered locally only
// when the server echoes it back.
func (c *Client) SendChat(to, text string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return conn.Write(wire.Chat(wire.NewMessage(c.username, to, text)))
}

// RequestHistory asks the server for the full conversation with another
// user. The response arrives as a HistoryReceived event.
func (c *Client) RequestHistory(with string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return conn.Write(wire.RequestHistory(c.username, with))
}

// dispatch routes one inbound frame to the handler. Unknown types are
// skipped so older clients survive newer servers.
func (c *Client) dispatch(env wire.Envelope) error {
	switch env.Type {
	case wire.TypeChat:
		m := env.ChatMessage()
		c.cacheMessage(m)
		c.handler.MessageReceived(m)
	case wire.TypeUserList:
		c.handler.RosterUpdated(env.Users)
	case wire.TypeChatHistory:
		messages := lo.Map(env.Messages, func(p wire.MessagePayload, _ int) wire.Message {
			return p.Message()
		})
		c.cacheHistory(env.With, messages)
		c.handler.HistoryReceived(env.With, messages)
	case wire.TypeKick:
		reason := env.Reason
		if reason == "" {
			reason = "You have been kicked"
		}
		c.handler.Kicked(reason)
		return c.Close()
	case wire.TypeError:
		c.handler.ErrorReceived(env.ErrorText)
	default:
		c.log.Debug("ignoring frame", "type", env.Type)
	}
	return nil
}

func (c *Client) cacheMessage(m wire.Message) {
	if c.opts.cache == nil || m.Kind != wire.Private {
		return
	}
	if err := c.opts.cache.Append(history.ConversationID(m.From, m.To), m); err != nil {
		c.log.Warn("local cache append failed", "error", err)
	}
}

func (c *Client) cacheHistory(with string, messages []wire.Message) {
	if c.opts.cache == nil {
		return
	}
	id := history.ConversationID(c.username, with)
	if err := c.opts.cache.Replace(id, messages); err != nil {
		c.log.Warn("local cache replace failed", "error", err)
	}
}
