// Package mission_manager runs complete uploads: compile the flight plan,
// open the vehicle link, drive the handshake, then record and announce the
// outcome.
package mission_manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nhirsama/Goster-Mission/src/encoder"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
	"github.com/nhirsama/Goster-Mission/src/planner"
	"github.com/nhirsama/Goster-Mission/src/transport"
	"github.com/nhirsama/Goster-Mission/src/uploader"
)

const notifyTimeout = 5 * time.Second

// SessionOpener opens a live link to the vehicle at endpoint
type SessionOpener func(ctx context.Context, endpoint string) (inter.Session, error)

// Request is one upload as submitted by an operator
type Request struct {
	Endpoint       string
	CruiseAltitude float64
	Rows           []inter.FlightPlanRow
}

// Outcome describes a finished upload attempt, successful or not
type Outcome struct {
	UploadID string
	Endpoint string
	Items    []inter.MissionItem
	Result   *uploader.Result
}

// Manager is safe for concurrent use. Uploads to the same endpoint queue
// behind each other; different endpoints proceed in parallel.
type Manager struct {
	dataStore   inter.DataStore
	notifier    inter.Notifier
	uploader    *uploader.Uploader
	open        SessionOpener
	plannerOpts []planner.Option
	encoderOpts []encoder.Option
	log         inter.Logger
	locks       endpointLocks
}

// Option configures a Manager
type Option func(*Manager)

// WithTransportOptions sets how sessions are opened
func WithTransportOptions(opts ...transport.Option) Option {
	return func(m *Manager) { m.open = transportOpener(opts) }
}

func transportOpener(opts []transport.Option) SessionOpener {
	return func(ctx context.Context, endpoint string) (inter.Session, error) {
		sess, err := transport.Open(ctx, endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// WithSessionOpener replaces the transport, for simulators and tests
func WithSessionOpener(open SessionOpener) Option {
	return func(m *Manager) {
		if open != nil {
			m.open = open
		}
	}
}

func WithUploader(u *uploader.Uploader) Option {
	return func(m *Manager) {
		if u != nil {
			m.uploader = u
		}
	}
}

func WithPlannerOptions(opts ...planner.Option) Option {
	return func(m *Manager) { m.plannerOpts = append(m.plannerOpts, opts...) }
}

func WithEncoderOptions(opts ...encoder.Option) Option {
	return func(m *Manager) { m.encoderOpts = append(m.encoderOpts, opts...) }
}

func WithLogger(l inter.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMissionManager creates a Manager. ds and n may be nil, which disables
// history and notifications.
func NewMissionManager(ds inter.DataStore, n inter.Notifier, opts ...Option) *Manager {
	m := &Manager{
		dataStore: ds,
		notifier:  n,
		uploader:  uploader.New(),
		log:       logging.Nop(),
	}
	m.open = transportOpener(nil)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile turns rows into the mission plan that would be uploaded. Invalid
// rows yield a *planner.PlanError.
func (m *Manager) Compile(rows []inter.FlightPlanRow, cruiseAltitude float64) (*inter.MissionPlan, error) {
	instructions, err := planner.Compile(rows, cruiseAltitude, m.plannerOpts...)
	if err != nil {
		return nil, err
	}
	return encoder.Encode(instructions, m.encoderOpts...)
}

// Upload compiles req and transfers it to the vehicle. Every attempt that
// reaches the vehicle link is recorded, whatever its result.
//
// Errors: *planner.PlanError, *transport.ConnectionError,
// *uploader.ProtocolError, *uploader.RejectedError, or ctx's error while
// queued behind another upload to the same endpoint.
func (m *Manager) Upload(ctx context.Context, req Request) (*Outcome, error) {
	plan, err := m.Compile(req.Rows, req.CruiseAltitude)
	if err != nil {
		return nil, err
	}

	key := lockKey(req.Endpoint)
	if m.locks.busy(key) {
		m.log.Info("endpoint busy, upload queued", "endpoint", req.Endpoint)
	}
	if err := m.locks.lock(ctx, key); err != nil {
		return nil, fmt.Errorf("waiting for endpoint %s: %w", req.Endpoint, err)
	}
	defer m.locks.unlock(key)

	outcome := &Outcome{Endpoint: req.Endpoint, Items: plan.Items()}
	started := time.Now()

	sess, err := m.open(ctx, req.Endpoint)
	if err != nil {
		outcome.UploadID = uuid.NewString()
		m.finish(ctx, inter.UploadRecord{
			ID:         outcome.UploadID,
			Endpoint:   req.Endpoint,
			ItemCount:  plan.Count(),
			State:      uploader.Failed.String(),
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		return outcome, err
	}
	defer sess.Close()

	res, err := m.uploader.Upload(ctx, sess, plan)
	outcome.UploadID = res.UploadID
	outcome.Result = res

	rec := inter.UploadRecord{
		ID:         res.UploadID,
		Endpoint:   req.Endpoint,
		ItemCount:  plan.Count(),
		ItemsSent:  res.ItemsSent,
		State:      res.State.String(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	m.finish(ctx, rec)
	return outcome, err
}

// finish records and publishes rec. Failures here are logged and never
// change the upload's result.
func (m *Manager) finish(ctx context.Context, rec inter.UploadRecord) {
	if m.dataStore != nil {
		if err := m.dataStore.RecordUpload(rec); err != nil {
			m.log.Error("recording upload failed", "upload_id", rec.ID, "error", err)
		}
	}
	if m.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := m.notifier.Publish(nctx, rec); err != nil {
			m.log.Warn("publishing upload failed", "upload_id", rec.ID, "error", err)
		}
	}
}

// History lists recent uploads, newest first
func (m *Manager) History(limit int) ([]inter.UploadRecord, error) {
	if m.dataStore == nil {
		return nil, nil
	}
	return m.dataStore.ListUploads(limit)
}

// Lookup loads one upload record
func (m *Manager) Lookup(id string) (inter.UploadRecord, error) {
	if m.dataStore == nil {
		return inter.UploadRecord{}, fmt.Errorf("upload %s: %w", id, inter.ErrNotFound)
	}
	return m.dataStore.GetUpload(id)
}

// IsClientError reports whether err was caused by the submitted plan rather
// than the vehicle or the link
func IsClientError(err error) bool {
	var planErr *planner.PlanError
	return errors.As(err, &planErr)
}
