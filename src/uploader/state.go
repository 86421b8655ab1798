package uploader

import "time"

// State is a step of the upload handshake
type State int

const (
	Idle State = iota
	Clearing
	AnnouncingCount
	AwaitingItemRequests
	AwaitingAck
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Clearing:
		return "Clearing"
	case AnnouncingCount:
		return "AnnouncingCount"
	case AwaitingItemRequests:
		return "AwaitingItemRequests"
	case AwaitingAck:
		return "AwaitingAck"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Progress is passed to the ProgressCallback on every state change and after
// every item sent.
type Progress struct {
	State State
	// Seq is the item just sent, or -1
	Seq        int
	ItemsSent  int
	TotalItems int
	Resends    int
	Elapsed    time.Duration
}

// ProgressCallback must return quickly; it runs on the upload goroutine.
type ProgressCallback func(Progress)

// Result summarises one upload attempt. It is returned on failure too.
type Result struct {
	UploadID   string
	State      State
	TotalItems int
	// ItemsSent counts distinct items the vehicle pulled
	ItemsSent int
	// Resends counts items sent again on a repeated request
	Resends int
	Elapsed time.Duration
}
