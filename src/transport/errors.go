package transport

import "fmt"

// ConnectionFailure classifies a ConnectionError
type ConnectionFailure int

const (
	// NoLiveness means the link opened but no heartbeat arrived in time
	NoLiveness ConnectionFailure = iota + 1
	// Unreachable means the endpoint could not be parsed or opened
	Unreachable
)

func (f ConnectionFailure) String() string {
	switch f {
	case NoLiveness:
		return "no liveness"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// ConnectionError is returned by Open. It is fatal to the upload attempt.
type ConnectionError struct {
	Endpoint string
	Reason   ConnectionFailure
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("connect %s: %s", e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
