package hardware

import (
	"context"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// Hardware is one running adapter instance: a serial meter, a cloud
// account, a hub on the LAN.
type Hardware interface {
	ID() int
	Name() string
	Type() string

	// Start connects and begins delivering messages to sink. It must not
	// block; background work runs until Stop or ctx cancellation.
	Start(ctx context.Context, sink Sink) error

	// Stop ends all background work and waits for it.
	Stop() error

	// Write executes a command on a device owned by this hardware.
	Write(ctx context.Context, cmd rx.Command) error

	// LastHeartbeat is the last time the adapter's loop was alive.
	LastHeartbeat() time.Time
}

// Sink receives decoded messages. The mainworker implements it.
type Sink interface {
	Submit(msg rx.Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg rx.Message) error

// Submit calls f(msg).
func (f SinkFunc) Submit(msg rx.Message) error {
	return f(msg)
}

// Logger defines the logging interface used by hardware adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}
