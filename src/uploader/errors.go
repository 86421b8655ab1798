package uploader

import (
	"fmt"

	"github.com/nhirsama/Goster-Mission/src/inter"
)

// FailureReason classifies a ProtocolError
type FailureReason int

const (
	// ReasonTimeout means a bounded wait for the vehicle expired
	ReasonTimeout FailureReason = iota + 1
	// ReasonTransport means the link failed to send or receive
	ReasonTransport
	// ReasonMalformed means a record arrived that could not be used
	ReasonMalformed
	// ReasonUnexpected means a well-formed record arrived out of turn
	ReasonUnexpected
	// ReasonCancelled means the caller's context ended the upload
	ReasonCancelled
)

func (r FailureReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonTransport:
		return "transport"
	case ReasonMalformed:
		return "malformed record"
	case ReasonUnexpected:
		return "unexpected record"
	case ReasonCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ProtocolError is a handshake failure other than a rejection
type ProtocolError struct {
	State  State
	Reason FailureReason
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mission upload failed in %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("mission upload failed in %s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RejectedError means the vehicle answered with a non-accepted MISSION_ACK.
// The link worked; the vehicle refused the mission.
type RejectedError struct {
	State  State
	Result inter.MavMissionResult
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("mission rejected by vehicle in %s: %s", e.State, e.Result)
}
