package transport

import "log/slog"

// Logger is the interface for structured logging.
// It is satisfied by *slog.Logger; components that want different routing
// (an admin console, a test capture) provide their own implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger returns the process-wide slog logger.
func DefaultLogger() Logger {
	return slog.Default()
}
