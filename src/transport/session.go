// Package transport opens MAVLink links to a vehicle and exchanges frames
// over them.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
	"github.com/nhirsama/Goster-Mission/src/protocol"
)

const (
	DefaultHeartbeatTimeout = 10 * time.Second
	// DefaultSystemID and DefaultComponentID identify us as a ground station
	DefaultSystemID    = 255
	DefaultComponentID = 190

	// pollInterval bounds each blocking read so cancellation is noticed
	pollInterval     = 200 * time.Millisecond
	announceInterval = time.Second
	readBufSize      = 2048

	mavTypeGCS          = 6
	mavAutopilotInvalid = 8
)

type config struct {
	heartbeatTimeout time.Duration
	systemID         uint8
	componentID      uint8
	version          uint8
	logger           inter.Logger
}

// Option configures Open
type Option func(*config)

// WithHeartbeatTimeout bounds the wait for the vehicle's first heartbeat
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.heartbeatTimeout = d
		}
	}
}

// WithSourceIDs sets the system and component ids stamped on outgoing frames
func WithSourceIDs(systemID, componentID uint8) Option {
	return func(c *config) {
		c.systemID = systemID
		c.componentID = componentID
	}
}

// WithMavlinkVersion selects MAVLink 1 or 2 framing for outgoing frames
func WithMavlinkVersion(v uint8) Option {
	return func(c *config) {
		if v == 1 || v == 2 {
			c.version = v
		}
	}
}

// WithLogger sets the logger
func WithLogger(l inter.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Session is one live link to one vehicle. It implements inter.Session.
// A Session is not safe for concurrent Receive calls.
type Session struct {
	endpoint Endpoint
	link     link
	codec    inter.ProtocolCodec
	cfg      config
	log      inter.Logger

	sendMu sync.Mutex
	seq    uint8

	pending []byte
	readBuf []byte

	targetSystem    uint8
	targetComponent uint8

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ inter.Session = (*Session)(nil)

// Open connects to endpoint and blocks until the vehicle's heartbeat is seen.
// The session's target ids are taken from that heartbeat.
func Open(ctx context.Context, endpoint string, opts ...Option) (*Session, error) {
	cfg := config{
		heartbeatTimeout: DefaultHeartbeatTimeout,
		systemID:         DefaultSystemID,
		componentID:      DefaultComponentID,
		version:          2,
		logger:           logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Reason: Unreachable, Err: err}
	}
	l, err := dial(ep)
	if err != nil {
		return nil, &ConnectionError{Endpoint: ep.String(), Reason: Unreachable, Err: err}
	}

	s := newSession(ep, l, cfg)
	s.log.Info("waiting for heartbeat", "endpoint", ep.String(), "timeout", cfg.heartbeatTimeout)

	if err := s.awaitHeartbeat(ctx); err != nil {
		s.Close()
		if errors.Is(err, inter.ErrTimeout) {
			return nil, &ConnectionError{Endpoint: ep.String(), Reason: NoLiveness, Err: err}
		}
		return nil, &ConnectionError{Endpoint: ep.String(), Reason: Unreachable, Err: err}
	}
	s.log.Info("heartbeat received", "endpoint", ep.String(),
		"target_system", s.targetSystem, "target_component", s.targetComponent)
	return s, nil
}

func newSession(ep Endpoint, l link, cfg config) *Session {
	return &Session{
		endpoint: ep,
		link:     l,
		codec:    protocol.NewMavlinkCodec(),
		cfg:      cfg,
		log:      cfg.logger,
		readBuf:  make([]byte, readBufSize),
		closed:   make(chan struct{}),
	}
}

// awaitHeartbeat announces us once a second, so a udpout peer learns our
// address, until the vehicle's heartbeat arrives
func (s *Session) awaitHeartbeat(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.heartbeatTimeout)
	for {
		if err := s.Send(gcsHeartbeat()); err != nil {
			s.log.Debug("heartbeat not sent", "error", err)
		}
		slot := time.Now().Add(announceInterval)
		if slot.After(deadline) {
			slot = deadline
		}
		for {
			frame, err := s.nextFrame(ctx, slot)
			if errors.Is(err, inter.ErrTimeout) && time.Now().Before(deadline) {
				break
			}
			if err != nil {
				return err
			}
			if frame.MsgID != inter.MsgHeartbeat || frame.SystemID == s.cfg.systemID {
				continue
			}
			s.targetSystem = frame.SystemID
			s.targetComponent = frame.ComponentID
			return nil
		}
	}
}

func gcsHeartbeat() *protocol.Heartbeat {
	return &protocol.Heartbeat{
		Type:           mavTypeGCS,
		Autopilot:      mavAutopilotInvalid,
		MavlinkVersion: 3,
	}
}

// Endpoint returns the parsed endpoint
func (s *Session) Endpoint() Endpoint { return s.endpoint }

func (s *Session) TargetSystem() uint8    { return s.targetSystem }
func (s *Session) TargetComponent() uint8 { return s.targetComponent }

// Send frames msg with the next sequence number and writes it
func (s *Session) Send(msg inter.Message) error {
	if s.isClosed() {
		return inter.ErrSessionClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	buf, err := s.codec.Pack(msg, inter.FrameHeader{
		Version:     s.cfg.version,
		Seq:         s.seq,
		SystemID:    s.cfg.systemID,
		ComponentID: s.cfg.componentID,
	})
	if err != nil {
		return err
	}
	s.seq++
	if err := s.link.write(buf); err != nil {
		return fmt.Errorf("send message %d: %w", msg.MsgID(), err)
	}
	return nil
}

// Receive returns the next frame from the target vehicle whose id is in ids.
// Frames from other systems, frames with other ids and corrupt frames are
// dropped. The wait ends after timeout with inter.ErrTimeout, or earlier when
// ctx is done.
func (s *Session) Receive(ctx context.Context, timeout time.Duration, ids ...inter.MsgID) (*inter.Frame, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("receive: timeout must be positive")
	}
	deadline := time.Now().Add(timeout)
	for {
		frame, err := s.nextFrame(ctx, deadline)
		if err != nil {
			return nil, err
		}
		if frame.SystemID != s.targetSystem || !wanted(frame.MsgID, ids) {
			continue
		}
		return frame, nil
	}
}

func wanted(id inter.MsgID, ids []inter.MsgID) bool {
	if len(ids) == 0 {
		return true
	}
	for _, want := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// nextFrame decodes the next valid frame, reading from the link as needed
func (s *Session) nextFrame(ctx context.Context, deadline time.Time) (*inter.Frame, error) {
	for {
		if s.isClosed() {
			return nil, inter.ErrSessionClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if frame := s.parsePending(); frame != nil {
			return frame, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return nil, fmt.Errorf("no frame before deadline: %w", inter.ErrTimeout)
		}
		readUntil := deadline
		if poll := now.Add(pollInterval); poll.Before(readUntil) {
			readUntil = poll
		}

		n, err := s.link.read(s.readBuf, readUntil)
		if err != nil {
			if errors.Is(err, errLinkTimeout) {
				continue
			}
			if s.isClosed() {
				return nil, inter.ErrSessionClosed
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if s.link.datagram() {
			// a datagram never continues a frame from an earlier one
			s.pending = s.pending[:0]
		}
		s.pending = append(s.pending, s.readBuf[:n]...)
	}
}

// parsePending pulls one frame out of the buffered bytes, discarding corrupt
// and unknown frames. It returns nil when more bytes are needed.
func (s *Session) parsePending() *inter.Frame {
	for len(s.pending) > 0 {
		r := bytes.NewReader(s.pending)
		frame, err := s.codec.Unpack(r)
		consumed := len(s.pending) - r.Len()

		switch {
		case err == nil:
			s.pending = s.pending[consumed:]
			return frame
		case err == io.EOF:
			// no start marker anywhere in the buffer
			s.pending = s.pending[:0]
			return nil
		case err == io.ErrUnexpectedEOF:
			return nil
		default:
			s.log.Debug("dropping frame", "endpoint", s.endpoint.String(), "error", err)
			s.pending = s.pending[consumed:]
		}
	}
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close releases the link. Later calls return the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.link.Close()
		s.log.Debug("session closed", "endpoint", s.endpoint.String())
	})
	return s.closeErr
}
