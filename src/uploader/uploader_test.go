package uploader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhirsama/Goster-Mission/src/encoder"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake vehicle
// =============================================================================

// fakeSession answers sends synchronously through respond. An empty inbox
// makes Receive time out at once.
type fakeSession struct {
	respond func(msg inter.Message) []inter.Message
	sendErr error

	sent   []inter.Message
	inbox  []*inter.Frame
	closed int
}

func (f *fakeSession) Send(msg inter.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	if f.respond != nil {
		for _, reply := range f.respond(msg) {
			f.push(reply)
		}
	}
	return nil
}

func (f *fakeSession) push(msg inter.Message) {
	f.inbox = append(f.inbox, &inter.Frame{
		Version:     2,
		SystemID:    1,
		ComponentID: 1,
		MsgID:       msg.MsgID(),
		Payload:     msg.MarshalPayload(),
	})
}

func (f *fakeSession) Receive(ctx context.Context, timeout time.Duration, ids ...inter.MsgID) (*inter.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(f.inbox) > 0 {
		frame := f.inbox[0]
		f.inbox = f.inbox[1:]
		for _, id := range ids {
			if frame.MsgID == id {
				return frame, nil
			}
		}
	}
	return nil, inter.ErrTimeout
}

func (f *fakeSession) TargetSystem() uint8    { return 1 }
func (f *fakeSession) TargetComponent() uint8 { return 1 }
func (f *fakeSession) Close() error           { f.closed++; return nil }

func (f *fakeSession) sentItems() []uint16 {
	var seqs []uint16
	for _, m := range f.sent {
		if it, ok := m.(*protocol.MissionItemInt); ok {
			seqs = append(seqs, it.Item.Seq)
		}
	}
	return seqs
}

func (f *fakeSession) count(id inter.MsgID) int {
	n := 0
	for _, m := range f.sent {
		if m.MsgID() == id {
			n++
		}
	}
	return n
}

func ack(result inter.MavMissionResult) *protocol.MissionAck {
	return &protocol.MissionAck{TargetSystem: 255, TargetComponent: 190, Type: result}
}

func request(seq uint16) *protocol.MissionRequest {
	return &protocol.MissionRequest{Seq: seq, TargetSystem: 255, TargetComponent: 190, Int: true}
}

// vehicle is a well-behaved autopilot: acks the clear, pulls the items in
// the given order and answers with final
func vehicle(order []uint16, final inter.MavMissionResult) func(inter.Message) []inter.Message {
	next := 0
	pull := func() []inter.Message {
		if next == len(order) {
			return []inter.Message{ack(final)}
		}
		seq := order[next]
		next++
		return []inter.Message{request(seq)}
	}
	return func(msg inter.Message) []inter.Message {
		switch msg.(type) {
		case *protocol.MissionClearAll:
			return []inter.Message{ack(inter.MavMissionAccepted)}
		case *protocol.MissionCount, *protocol.MissionItemInt:
			return pull()
		}
		return nil
	}
}

func threeItemPlan(t *testing.T) *inter.MissionPlan {
	plan, err := encoder.Encode([]inter.Instruction{
		inter.Takeoff{Altitude: 15},
		inter.Waypoint{Lat: 10, Lon: 20, Altitude: 15, HoldSeconds: 5},
		inter.ReturnToLaunch{},
	})
	require.NoError(t, err)
	return plan
}

// =============================================================================
// Handshake
// =============================================================================

func TestUpload_InOrderSuccess(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)}
	plan := threeItemPlan(t)

	var states []State
	up := New(WithProgressCallback(func(p Progress) {
		if p.Seq < 0 {
			states = append(states, p.State)
		}
	}))

	res, err := up.Upload(context.Background(), sess, plan)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 3, res.ItemsSent)
	assert.Equal(t, 0, res.Resends)
	assert.NotEmpty(t, res.UploadID)
	assert.Equal(t, 1, sess.closed)

	assert.Equal(t, []State{Clearing, AnnouncingCount, AwaitingItemRequests, AwaitingAck, Succeeded}, states)
	assert.Equal(t, []uint16{0, 1, 2}, sess.sentItems())

	require.IsType(t, &protocol.MissionClearAll{}, sess.sent[0])
	count := sess.sent[1].(*protocol.MissionCount)
	assert.Equal(t, uint16(3), count.Count)
	assert.Equal(t, uint8(1), count.TargetSystem)

	for i, m := range sess.sent[2:] {
		it := m.(*protocol.MissionItemInt)
		want, _ := plan.Item(i)
		assert.Equal(t, want, it.Item)
		assert.Equal(t, uint8(1), it.TargetSystem)
		assert.Equal(t, uint8(1), it.TargetComponent)
	}
}

func TestUpload_OutOfOrderRequests(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{2, 0, 1}, inter.MavMissionAccepted)}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, []uint16{2, 0, 1}, sess.sentItems())
}

func TestUpload_RepeatedRequestIsResent(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0, 1, 1, 2}, inter.MavMissionAccepted)}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ItemsSent)
	assert.Equal(t, 1, res.Resends)
	assert.Equal(t, []uint16{0, 1, 1, 2}, sess.sentItems())
}

func TestUpload_LegacyRequestAnsweredWithIntItem(t *testing.T) {
	plan := threeItemPlan(t)
	next := uint16(0)
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		switch msg.(type) {
		case *protocol.MissionCount, *protocol.MissionItemInt:
			if next == 3 {
				return []inter.Message{ack(inter.MavMissionAccepted)}
			}
			next++
			return []inter.Message{&protocol.MissionRequest{Seq: next - 1}}
		}
		return nil
	}}

	_, err := New().Upload(context.Background(), sess, plan)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.count(inter.MsgMissionItemInt))
}

func TestUpload_Rejected(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0, 1, 2}, inter.MavMissionNoSpace)}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, inter.MavMissionNoSpace, rejected.Result)
	assert.Equal(t, AwaitingAck, rejected.State)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, sess.closed)
	assert.Contains(t, err.Error(), "MAV_MISSION_NO_SPACE")
}

func TestUpload_NoItemRequestTimesOut(t *testing.T) {
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message { return nil }}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, ReasonTimeout, protoErr.Reason)
	assert.Equal(t, AwaitingItemRequests, protoErr.State)
	assert.True(t, errors.Is(err, inter.ErrTimeout))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 0, res.ItemsSent)
	assert.Equal(t, 1, sess.closed)
}

func TestUpload_AckTimesOut(t *testing.T) {
	served := 0
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		switch msg.(type) {
		case *protocol.MissionCount, *protocol.MissionItemInt:
			if served < 3 {
				served++
				return []inter.Message{request(uint16(served - 1))}
			}
		}
		return nil
	}}

	_, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, AwaitingAck, protoErr.State)
	assert.Equal(t, ReasonTimeout, protoErr.Reason)
}

func TestUpload_SequenceOutOfRange(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0, 7}, inter.MavMissionAccepted)}

	_, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, ReasonMalformed, protoErr.Reason)
	assert.Equal(t, []uint16{0}, sess.sentItems())
}

func TestUpload_EarlyAccept(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0}, inter.MavMissionAccepted)}

	_, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, ReasonUnexpected, protoErr.Reason)
	assert.Equal(t, AwaitingItemRequests, protoErr.State)
}

func TestUpload_EmptyPlan(t *testing.T) {
	plan, err := encoder.Encode(nil)
	require.NoError(t, err)
	sess := &fakeSession{respond: vehicle(nil, inter.MavMissionAccepted)}

	res, err := New().Upload(context.Background(), sess, plan)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 0, sess.count(inter.MsgMissionItemInt))
	assert.Equal(t, uint16(0), sess.sent[1].(*protocol.MissionCount).Count)
}

func TestUpload_ClearRejected(t *testing.T) {
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		if _, ok := msg.(*protocol.MissionClearAll); ok {
			return []inter.Message{ack(inter.MavMissionDenied)}
		}
		return nil
	}}

	_, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, Clearing, rejected.State)
	assert.Equal(t, 0, sess.count(inter.MsgMissionCount))
}

func TestUpload_SilentClearProceeds(t *testing.T) {
	inner := vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		if _, ok := msg.(*protocol.MissionClearAll); ok {
			return nil
		}
		return inner(msg)
	}}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
}

func TestUpload_UnawaitedClearAckIsIgnored(t *testing.T) {
	sess := &fakeSession{respond: vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)}

	res, err := New(WithClearAckTimeout(0)).Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, []uint16{0, 1, 2}, sess.sentItems())
	assert.Equal(t, 0, res.Resends)
}

func TestUpload_LateClearAckIsIgnored(t *testing.T) {
	inner := vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		switch msg.(type) {
		case *protocol.MissionClearAll:
			return nil
		case *protocol.MissionCount:
			// the clear ack only shows up after the count went out
			return append([]inter.Message{ack(inter.MavMissionAccepted)}, inner(msg)...)
		}
		return inner(msg)
	}}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 3, res.ItemsSent)
}

func TestUpload_LateClearRejectStillFails(t *testing.T) {
	sess := &fakeSession{respond: func(msg inter.Message) []inter.Message {
		if _, ok := msg.(*protocol.MissionCount); ok {
			return []inter.Message{ack(inter.MavMissionDenied)}
		}
		return nil
	}}

	_, err := New(WithClearAckTimeout(0)).Upload(context.Background(), sess, threeItemPlan(t))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, AwaitingItemRequests, rejected.State)
}

func TestUpload_CountRetries(t *testing.T) {
	newSession := func() *fakeSession {
		inner := vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)
		counts := 0
		return &fakeSession{respond: func(msg inter.Message) []inter.Message {
			if _, ok := msg.(*protocol.MissionCount); ok {
				counts++
				if counts == 1 {
					return nil
				}
			}
			return inner(msg)
		}}
	}

	sess := newSession()
	_, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	assert.True(t, errors.Is(err, inter.ErrTimeout))

	sess = newSession()
	res, err := New(WithCountRetries(1)).Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.State)
	assert.Equal(t, 2, sess.count(inter.MsgMissionCount))
}

func TestUpload_SendFailure(t *testing.T) {
	sess := &fakeSession{sendErr: errors.New("network is unreachable")}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, ReasonTransport, protoErr.Reason)
	assert.Equal(t, Clearing, protoErr.State)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, sess.closed)
}

func TestUpload_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &fakeSession{respond: vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)}

	_, err := New().Upload(ctx, sess, threeItemPlan(t))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, ReasonCancelled, protoErr.Reason)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, sess.sent)
	assert.Equal(t, 1, sess.closed)
}

func TestUpload_IgnoresOtherMissionTypes(t *testing.T) {
	inner := vehicle([]uint16{0, 1, 2}, inter.MavMissionAccepted)
	sess := &fakeSession{}
	sess.respond = func(msg inter.Message) []inter.Message {
		if _, ok := msg.(*protocol.MissionCount); ok {
			sess.push(&protocol.MissionRequest{Seq: 9, Int: true, MissionType: inter.MavMissionTypeFence})
		}
		return inner(msg)
	}

	res, err := New().Upload(context.Background(), sess, threeItemPlan(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ItemsSent)
}
