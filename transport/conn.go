// Package transport provides the TCP plumbing shared by the relay server
// and client: a framed connection with independent read/write loops and an
// accepting server with graceful shutdown.
package transport

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"chat-relay/wire"
)

// Errors returned by connection operations.
var (
	// ErrNoFrameHandler is returned when no frame handler is provided.
	ErrNoFrameHandler = errors.New("no frame handler configured")
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Write when the outbound queue is
	// full. The frame was not queued.
	ErrSendBufferFull = errors.New("send buffer full")
)

const defaultSendBuffer = 16

// Conn is one framed TCP connection. Inbound frames are decoded on the read
// loop and handed to the configured handler in arrival order; outbound
// frames are queued on a channel drained by the write loop, so writers
// never block on a slow socket unless they choose to.
type Conn struct {
	raw    *net.TCPConn
	reader *bufio.Reader
	logger Logger

	opts options

	send   chan []byte
	closed atomic.Bool
	cancel context.CancelFunc
}

// NewConn wraps an accepted or dialed TCP connection.
// A frame handler is required; everything else has defaults.
func NewConn(raw *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if opts.onFrame == nil {
		return nil, ErrNoFrameHandler
	}
	if opts.sendBuffer <= 0 {
		opts.sendBuffer = defaultSendBuffer
	}
	if opts.onError == nil {
		opts.onError = func(error) ErrorAction { return Disconnect }
	}
	if opts.logger == nil {
		opts.logger = DefaultLogger()
	}

	return &Conn{
		raw:    raw,
		reader: bufio.NewReader(raw),
		logger: opts.logger,
		opts:   opts,
		send:   make(chan []byte, opts.sendBuffer),
	}, nil
}

// Run drives the read and write loops until the peer goes away, a handler
// fails, or the context is canceled. The socket is closed before Run
// returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Debug("connection running", "addr", c.Addr())

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})
	group.Go(func() error {
		return c.writeLoop(child)
	})
	// Decode blocks in a socket read that cancellation alone cannot
	// interrupt when no deadline is armed. Closing the socket can.
	group.Go(func() error {
		<-child.Done()
		c.closed.Store(true)
		c.raw.Close()
		return child.Err()
	})

	err := group.Wait()
	c.closed.Store(true)
	c.raw.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("connection closed", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Debug("connection closed", "addr", c.Addr())
	}
	return err
}

// Close tears the connection down. Safe to call multiple times and from
// any goroutine.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.raw.Close()
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write encodes an envelope and queues it without blocking.
// Returns ErrSendBufferFull when the queue is full; the frame is dropped.
func (c *Conn) Write(env wire.Envelope) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	frame, err := c.opts.codec.Encode(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// WriteBlocking encodes an envelope and queues it, waiting for space until
// the context is canceled.
func (c *Conn) WriteBlocking(ctx context.Context, env wire.Envelope) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	frame, err := c.opts.codec.Encode(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteFinal encodes an envelope and writes it straight to the socket,
// bypassing the send queue. Intended for teardown frames that must reach
// the peer before the connection is closed; ordering with already-queued
// frames is not guaranteed.
func (c *Conn) WriteFinal(env wire.Envelope) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	frame, err := c.opts.codec.Encode(env)
	if err != nil {
		return err
	}

	if c.opts.ioTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.opts.ioTimeout))
	}
	_, err = c.raw.Write(frame)
	return err
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if c.opts.ioTimeout > 0 {
				_ = c.raw.SetReadDeadline(time.Now().Add(c.opts.ioTimeout))
			}

			env, err := c.opts.codec.Decode(c.reader)
			if err != nil {
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					return err
				}
				continue
			}

			if err = c.opts.onFrame(env); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.send:
			if c.opts.ioTimeout > 0 {
				_ = c.raw.SetWriteDeadline(time.Now().Add(c.opts.ioTimeout))
			}

			if _, err := c.raw.Write(frame); err != nil {
				c.logger.Debug("write error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					return err
				}
			}
		}
	}
}
