package transport

import (
	"time"

	"chat-relay/wire"
)

// ErrorAction defines how a connection reacts to a decode or write error.
type ErrorAction int

const (
	// Disconnect closes the connection.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and keeps reading.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	codec  wire.Codec
	logger Logger

	onFrame func(env wire.Envelope) error
	// onError decides whether a frame-level error tears the connection down.
	onError func(error) ErrorAction

	sendBuffer int
	// ioTimeout, when positive, bounds each socket read and write.
	// Zero leaves the socket without deadlines: a stalled peer holds its
	// connection open until it is closed explicitly.
	ioTimeout time.Duration
}

// Option configures a connection.
type Option func(*options)

// WithCodec sets the frame codec. The zero codec with default limits is
// used when not set.
func WithCodec(codec wire.Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithSendBuffer sets the size of the outbound frame queue.
func WithSendBuffer(size int) Option {
	return func(o *options) {
		o.sendBuffer = size
	}
}

// WithIOTimeout sets a deadline applied to every socket read and write.
func WithIOTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.ioTimeout = timeout
	}
}

// WithOnFrame sets the inbound frame handler. Required. Frames are
// delivered strictly in arrival order; returning an error stops the
// connection.
func WithOnFrame(cb func(env wire.Envelope) error) Option {
	return func(o *options) {
		o.onFrame = cb
	}
}

// WithOnError sets the error callback, invoked for decode and write
// failures. Return Disconnect to close the connection, Continue to keep it.
func WithOnError(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
