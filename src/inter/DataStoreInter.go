package inter

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by DataStore lookups that match nothing
var ErrNotFound = errors.New("record not found")

// UploadRecord is the audit entry written after every upload attempt
type UploadRecord struct {
	ID         string    `json:"id"`
	Endpoint   string    `json:"endpoint"`
	ItemCount  int       `json:"item_count"`
	ItemsSent  int       `json:"items_sent"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the vehicle accepted the mission
func (r UploadRecord) Succeeded() bool {
	return r.Error == ""
}

// DataStore persists upload history. Compatible with SQLite and PostgreSQL
// back ends.
type DataStore interface {
	// RecordUpload appends one attempt
	RecordUpload(rec UploadRecord) error

	// ListUploads returns the most recent attempts, newest first
	ListUploads(limit int) ([]UploadRecord, error)

	// GetUpload loads one attempt by id
	GetUpload(id string) (UploadRecord, error)

	Close() error
}

// Notifier publishes the outcome of an upload to interested parties
type Notifier interface {
	Publish(ctx context.Context, rec UploadRecord) error
	Close()
}
