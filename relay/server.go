package relay

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"chat-relay/history"
	"chat-relay/transport"
	"chat-relay/wire"
)

// Config carries the tunables of a relay server.
type Config struct {
	// Addr is the listen address, "host:port".
	Addr string
	// MaxFrameBytes caps inbound and outbound frame payloads.
	// Zero means wire.DefaultMaxFrameBytes.
	MaxFrameBytes int
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

// Server accepts connections and runs one Session per client until it is
// stopped. It owns every session exclusively: sessions are created on
// accept and released when their connection reaches a terminal state.
type Server struct {
	cfg      Config
	log      transport.Logger
	registry *Registry
	router   *Router

	listener *transport.Server
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	running bool
}

// NewServer builds a relay server over an existing history store.
func NewServer(cfg Config, store *history.Store, log transport.Logger, hooks Hooks) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		router:   NewRouter(registry, store, log, hooks),
	}
}

// Router exposes the dispatch operations (broadcast, kick, history, roster)
// to the admin surface.
func (s *Server) Router() *Router {
	return s.router
}

// Start binds the listener and begins accepting in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}

	listener, err := transport.Listen(s.cfg.Addr, transport.ServerLogger(s.log))
	if err != nil {
		return err
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		if err := listener.Serve(ctx, &acceptor{server: s, ctx: ctx}); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("serve failed", "error", err)
		}
	}()

	s.log.Info("relay server started", "addr", listener.Addr())
	return nil
}

// Addr returns the bound listen address, useful with ":0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop notifies registered clients, closes every connection including
// pending ones, and stops the listener. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.router.shutdown("Server shutting down")

	s.cancel()
	_ = s.listener.Close()
	<-s.done
	s.log.Info("relay server stopped")
}

// acceptor adapts the transport handler interface onto the relay server.
type acceptor struct {
	server *Server
	ctx    context.Context
}

func (a *acceptor) Handle(conn *net.TCPConn) {
	a.server.handle(a.ctx, conn)
}

// handle owns one client connection for its whole lifetime.
func (s *Server) handle(ctx context.Context, raw *net.TCPConn) {
	sess := newSession(s.log, s.router)

	conn, err := transport.NewConn(raw,
		transport.WithCodec(wire.Codec{MaxFrameBytes: s.cfg.MaxFrameBytes}),
		transport.WithSendBuffer(s.cfg.SendBuffer),
		transport.WithLogger(s.log),
		transport.WithOnFrame(sess.handleFrame),
		transport.WithOnError(classifyError),
	)
	if err != nil {
		s.log.Error("connection setup failed", "remote_addr", raw.RemoteAddr(), "error", err)
		_ = raw.Close()
		return
	}

	sess.attach(conn)
	s.registry.AddPending(sess)

	_ = conn.Run(ctx)
	s.router.sessionClosed(sess)
}

// classifyError keeps a session alive across malformed payloads: the frame
// boundary is still intact, so the next frame is readable. Framing and
// socket errors leave the stream unusable and end the connection.
func classifyError(err error) transport.ErrorAction {
	if errors.Is(err, wire.ErrMalformedPayload) {
		return transport.Continue
	}
	return transport.Disconnect
}
