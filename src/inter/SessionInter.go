package inter

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a blocking receive reaches its deadline
	ErrTimeout = errors.New("session: receive timed out")
	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session: closed")
)

// Session is one open link to a vehicle, owned by a single upload.
type Session interface {
	// Send frames and writes msg addressed to the vehicle
	Send(msg Message) error

	// Receive blocks until a frame from the vehicle whose id is in ids
	// arrives, the timeout elapses (ErrTimeout) or ctx is done. An empty ids
	// matches any message.
	Receive(ctx context.Context, timeout time.Duration, ids ...MsgID) (*Frame, error)

	// TargetSystem is the vehicle's system id, learned from its heartbeat
	TargetSystem() uint8
	// TargetComponent is the vehicle's component id
	TargetComponent() uint8

	// Close releases the underlying socket. It is safe to call more than once.
	Close() error
}

// Logger is the structured logger taken by every component
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
