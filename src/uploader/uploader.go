// Package uploader drives the MAVLink mission upload handshake against a
// live session: clear, announce the count, serve the vehicle's item
// requests, then wait for its verdict.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/protocol"
)

// Uploader runs uploads with one configuration. It holds no per-upload state
// and may be shared.
type Uploader struct {
	config Config
}

// New creates an Uploader.
//
//	up := uploader.New(
//	    uploader.WithItemRequestTimeout(3*time.Second),
//	    uploader.WithProgressCallback(func(p uploader.Progress) { ... }),
//	)
func New(opts ...Option) *Uploader {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Uploader{config: cfg}
}

// Upload transfers plan over sess. The session is closed before Upload
// returns, whatever the outcome. The returned Result is never nil.
//
// Errors are *ProtocolError or *RejectedError.
func (u *Uploader) Upload(ctx context.Context, sess inter.Session, plan *inter.MissionPlan) (*Result, error) {
	r := &run{
		cfg:   u.config,
		log:   u.config.Logger,
		sess:  sess,
		plan:  plan,
		start: time.Now(),
		res: &Result{
			UploadID:   uuid.NewString(),
			State:      Idle,
			TotalItems: plan.Count(),
		},
	}
	defer sess.Close()

	r.log.Info("mission upload started", "upload_id", r.res.UploadID, "items", plan.Count(),
		"target_system", sess.TargetSystem(), "target_component", sess.TargetComponent())

	err := r.execute(ctx)
	r.res.Elapsed = time.Since(r.start)
	if err != nil {
		r.transition(Failed)
		r.log.Error("mission upload failed", "upload_id", r.res.UploadID, "error", err,
			"items_sent", r.res.ItemsSent)
		return r.res, err
	}
	r.transition(Succeeded)
	r.log.Info("mission upload accepted", "upload_id", r.res.UploadID,
		"items", r.res.TotalItems, "resends", r.res.Resends, "elapsed", r.res.Elapsed)
	return r.res, nil
}

// run is the state of one upload
type run struct {
	cfg   Config
	log   inter.Logger
	sess  inter.Session
	plan  *inter.MissionPlan
	res   *Result
	start time.Time
}

func (r *run) execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.fail(ReasonCancelled, err)
	}
	if err := r.clear(ctx); err != nil {
		return err
	}

	r.transition(AnnouncingCount)
	if err := r.send(r.countMessage()); err != nil {
		return err
	}

	if r.plan.Count() > 0 {
		if err := r.serveItems(ctx); err != nil {
			return err
		}
	}
	return r.awaitAck(ctx)
}

// clear deletes the vehicle's current mission. Silence within the clear ack
// window is taken as success; many autopilots do not ack CLEAR_ALL.
func (r *run) clear(ctx context.Context) error {
	r.transition(Clearing)
	if err := r.send(&protocol.MissionClearAll{
		TargetSystem:    r.sess.TargetSystem(),
		TargetComponent: r.sess.TargetComponent(),
		MissionType:     inter.MavMissionTypeMission,
	}); err != nil {
		return err
	}
	if r.cfg.ClearAckTimeout == 0 {
		return nil
	}

	deadline := time.Now().Add(r.cfg.ClearAckTimeout)
	for {
		msg, err := r.receive(ctx, time.Until(deadline), inter.MsgMissionAck)
		if err != nil {
			if errors.Is(err, inter.ErrTimeout) {
				r.log.Debug("no ack for mission clear", "upload_id", r.res.UploadID)
				return nil
			}
			return err
		}
		ack := msg.(*protocol.MissionAck)
		if ack.MissionType != inter.MavMissionTypeMission {
			continue
		}
		if ack.Type != inter.MavMissionAccepted {
			return &RejectedError{State: Clearing, Result: ack.Type}
		}
		return nil
	}
}

func (r *run) countMessage() inter.Message {
	return &protocol.MissionCount{
		Count:           uint16(r.plan.Count()),
		TargetSystem:    r.sess.TargetSystem(),
		TargetComponent: r.sess.TargetComponent(),
		MissionType:     inter.MavMissionTypeMission,
	}
}

// serveItems answers item requests until every item has been pulled once
func (r *run) serveItems(ctx context.Context) error {
	r.transition(AwaitingItemRequests)

	total := r.plan.Count()
	served := make([]bool, total)
	retries := r.cfg.CountRetries

	for r.res.ItemsSent < total {
		msg, err := r.receive(ctx, r.cfg.ItemRequestTimeout,
			inter.MsgMissionRequestInt, inter.MsgMissionRequest, inter.MsgMissionAck)
		if err != nil {
			if errors.Is(err, inter.ErrTimeout) && r.res.ItemsSent == 0 && retries > 0 {
				retries--
				r.log.Warn("no item request, announcing count again", "upload_id", r.res.UploadID,
					"retries_left", retries)
				if err := r.send(r.countMessage()); err != nil {
					return err
				}
				continue
			}
			return err
		}

		switch m := msg.(type) {
		case *protocol.MissionAck:
			if m.MissionType != inter.MavMissionTypeMission {
				continue
			}
			if m.Type != inter.MavMissionAccepted {
				return &RejectedError{State: AwaitingItemRequests, Result: m.Type}
			}
			if r.res.ItemsSent == 0 {
				// late or unawaited ack of the mission clear
				r.log.Debug("ignoring accept before first item request", "upload_id", r.res.UploadID)
				continue
			}
			return r.fail(ReasonUnexpected, fmt.Errorf("accepted with %d of %d items sent", r.res.ItemsSent, total))

		case *protocol.MissionRequest:
			if m.MissionType != inter.MavMissionTypeMission {
				continue
			}
			if int(m.Seq) >= total {
				return r.fail(ReasonMalformed, fmt.Errorf("vehicle requested item %d of %d", m.Seq, total))
			}
			if err := r.sendItem(int(m.Seq)); err != nil {
				return err
			}
			if served[m.Seq] {
				r.res.Resends++
				r.log.Warn("item requested again", "upload_id", r.res.UploadID, "seq", m.Seq)
			} else {
				served[m.Seq] = true
				r.res.ItemsSent++
			}
			r.report(int(m.Seq))
		}
	}
	return nil
}

// awaitAck waits for the verdict. A repeated request for an item that got
// lost on the way is still answered.
func (r *run) awaitAck(ctx context.Context) error {
	r.transition(AwaitingAck)

	deadline := time.Now().Add(r.cfg.AckTimeout)
	for {
		msg, err := r.receive(ctx, time.Until(deadline),
			inter.MsgMissionAck, inter.MsgMissionRequestInt, inter.MsgMissionRequest)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *protocol.MissionAck:
			if m.MissionType != inter.MavMissionTypeMission {
				continue
			}
			if m.Type != inter.MavMissionAccepted {
				return &RejectedError{State: AwaitingAck, Result: m.Type}
			}
			return nil

		case *protocol.MissionRequest:
			if m.MissionType != inter.MavMissionTypeMission {
				continue
			}
			if int(m.Seq) >= r.plan.Count() {
				return r.fail(ReasonMalformed, fmt.Errorf("vehicle requested item %d of %d", m.Seq, r.plan.Count()))
			}
			if err := r.sendItem(int(m.Seq)); err != nil {
				return err
			}
			r.res.Resends++
			r.report(int(m.Seq))
		}
	}
}

func (r *run) sendItem(seq int) error {
	item, _ := r.plan.Item(seq)
	r.log.Debug("sending item", "upload_id", r.res.UploadID, "seq", seq, "command", item.Command.String())
	return r.send(&protocol.MissionItemInt{
		TargetSystem:    r.sess.TargetSystem(),
		TargetComponent: r.sess.TargetComponent(),
		MissionType:     inter.MavMissionTypeMission,
		Item:            item,
	})
}

func (r *run) send(msg inter.Message) error {
	if err := r.sess.Send(msg); err != nil {
		return r.classify(err)
	}
	return nil
}

// receive waits for one of ids and decodes it. timeout is always positive
// when the session is called.
func (r *run) receive(ctx context.Context, timeout time.Duration, ids ...inter.MsgID) (inter.Message, error) {
	if timeout <= 0 {
		return nil, r.fail(ReasonTimeout, inter.ErrTimeout)
	}
	frame, err := r.sess.Receive(ctx, timeout, ids...)
	if err != nil {
		return nil, r.classify(err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		return nil, r.fail(ReasonMalformed, err)
	}
	return msg, nil
}

func (r *run) classify(err error) error {
	switch {
	case errors.Is(err, inter.ErrTimeout):
		return r.fail(ReasonTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return r.fail(ReasonCancelled, err)
	default:
		return r.fail(ReasonTransport, err)
	}
}

func (r *run) fail(reason FailureReason, err error) *ProtocolError {
	return &ProtocolError{State: r.res.State, Reason: reason, Err: err}
}

func (r *run) transition(s State) {
	r.log.Debug("upload state", "upload_id", r.res.UploadID, "from", r.res.State.String(), "to", s.String())
	r.res.State = s
	r.report(-1)
}

func (r *run) report(seq int) {
	if r.cfg.ProgressCallback == nil {
		return
	}
	r.cfg.ProgressCallback(Progress{
		State:      r.res.State,
		Seq:        seq,
		ItemsSent:  r.res.ItemsSent,
		TotalItems: r.res.TotalItems,
		Resends:    r.res.Resends,
		Elapsed:    time.Since(r.start),
	})
}
