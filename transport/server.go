package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is called for each accepted connection. The implementation owns
// the connection from that point on.
type Handler interface {
	Handle(conn *net.TCPConn)
}

// Server accepts TCP connections and hands them to a Handler.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	shutdown bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets the logger for the server.
func ServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeout delays listener closure after the context is
// canceled, giving live handlers time to finish. Default is immediate.
func ServerShutdownTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// Listen binds a TCP listener on addr ("host:port").
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	s := &Server{
		listener: listener,
		logger:   DefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve accepts connections until the context is canceled or the listener
// fails. Each accepted connection runs its handler on its own goroutine.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("listening", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()
		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown", "timeout", s.shutdownTimeout)
			time.Sleep(s.shutdownTimeout)
		}
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Unblocks AcceptTCP.
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			stopped := s.shutdown
			s.mu.Unlock()
			if stopped {
				s.logger.Info("listener stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		go handler.Handle(conn)
	}
}

// Close stops the server immediately by closing the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.listener.Close()
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
