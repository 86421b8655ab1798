// Package vehiclesim is a minimal MAVLink autopilot on UDP. It speaks the
// mission upload handshake from the vehicle side and can be scripted to
// misbehave.
package vehiclesim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
	"github.com/nhirsama/Goster-Mission/src/protocol"
)

const (
	mavTypeQuadrotor       = 2
	mavAutopilotArdupilot  = 3
	mavStateActive         = 4
	readPoll               = 100 * time.Millisecond
	defaultHeartbeatPeriod = time.Second
	defaultSystemID        = 1
	defaultComponentID     = 1
)

// Config scripts the simulated vehicle
type Config struct {
	SystemID          uint8
	ComponentID       uint8
	HeartbeatInterval time.Duration
	// AckClear answers MISSION_CLEAR_ALL with an accepted ack
	AckClear bool
	// Result is sent in the final MISSION_ACK
	Result inter.MavMissionResult
	// Silent ignores MISSION_COUNT so uploads time out
	Silent bool
	// Order returns the request order for a mission of n items; nil pulls
	// 0..n-1
	Order func(n int) []uint16
	// LegacyRequests pulls items with MISSION_REQUEST instead of
	// MISSION_REQUEST_INT
	LegacyRequests bool
	Logger         inter.Logger
}

// Option adjusts Config
type Option func(*Config)

func WithSystemID(sys, comp uint8) Option {
	return func(c *Config) { c.SystemID, c.ComponentID = sys, comp }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	}
}

// WithResult makes the vehicle answer every upload with r
func WithResult(r inter.MavMissionResult) Option {
	return func(c *Config) { c.Result = r }
}

// WithSilence makes the vehicle ignore mission counts
func WithSilence() Option {
	return func(c *Config) { c.Silent = true }
}

func WithoutClearAck() Option {
	return func(c *Config) { c.AckClear = false }
}

// WithRequestOrder scripts which items are requested, in which order
func WithRequestOrder(order func(n int) []uint16) Option {
	return func(c *Config) { c.Order = order }
}

func WithLegacyRequests() Option {
	return func(c *Config) { c.LegacyRequests = true }
}

func WithLogger(l inter.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// transfer is an upload in progress
type transfer struct {
	gcsSystem    uint8
	gcsComponent uint8
	order        []uint16
	next         int
	items        []inter.MissionItem
}

// Vehicle is one simulated autopilot
type Vehicle struct {
	cfg       Config
	conn      *net.UDPConn
	connected bool
	codec     inter.ProtocolCodec

	mu       sync.Mutex
	peer     *net.UDPAddr
	seq      uint8
	active   *transfer
	missions [][]inter.MissionItem
	counts   int
}

func newVehicle(conn *net.UDPConn, connected bool, opts []Option) *Vehicle {
	cfg := Config{
		SystemID:          defaultSystemID,
		ComponentID:       defaultComponentID,
		HeartbeatInterval: defaultHeartbeatPeriod,
		AckClear:          true,
		Result:            inter.MavMissionAccepted,
		Logger:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Vehicle{cfg: cfg, conn: conn, connected: connected, codec: protocol.NewMavlinkCodec()}
}

// Listen binds addr and waits for a ground station to speak first, like a
// companion computer serving udpout clients
func Listen(addr string, opts ...Option) (*Vehicle, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return newVehicle(conn, false, opts), nil
}

// Dial sends heartbeats to a ground station listening on addr, like an
// autopilot configured with a fixed GCS address
func Dial(addr string, opts ...Option) (*Vehicle, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	return newVehicle(conn, true, opts), nil
}

// Addr is the vehicle's local UDP address
func (v *Vehicle) Addr() string {
	return v.conn.LocalAddr().String()
}

// Missions returns every mission the vehicle accepted, oldest first
func (v *Vehicle) Missions() [][]inter.MissionItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]inter.MissionItem, len(v.missions))
	copy(out, v.missions)
	return out
}

// Counts is how many MISSION_COUNT messages arrived
func (v *Vehicle) Counts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts
}

func (v *Vehicle) Close() error {
	return v.conn.Close()
}

// Run emits heartbeats and serves uploads until ctx is done or the vehicle
// is closed
func (v *Vehicle) Run(ctx context.Context) error {
	buf := make([]byte, 2048)
	nextBeat := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := time.Now()
		if !now.Before(nextBeat) {
			v.heartbeat()
			nextBeat = now.Add(v.cfg.HeartbeatInterval)
		}
		wake := now.Add(readPoll)
		if nextBeat.Before(wake) {
			wake = nextBeat
		}
		if err := v.conn.SetReadDeadline(wake); err != nil {
			return nil
		}

		n, addr, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				continue
			case errors.Is(err, syscall.ECONNREFUSED):
				continue
			case errors.Is(err, net.ErrClosed):
				return nil
			}
			return fmt.Errorf("vehiclesim: read: %w", err)
		}
		if !v.connected {
			v.mu.Lock()
			v.peer = addr
			v.mu.Unlock()
		}

		r := bytes.NewReader(buf[:n])
		for r.Len() > 0 {
			frame, err := v.codec.Unpack(r)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				v.cfg.Logger.Debug("vehiclesim: dropping frame", "error", err)
				continue
			}
			v.handle(frame)
		}
	}
}

func (v *Vehicle) handle(frame *inter.Frame) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case *protocol.MissionClearAll:
		if m.TargetSystem != v.cfg.SystemID {
			return
		}
		v.mu.Lock()
		v.active = nil
		v.mu.Unlock()
		v.cfg.Logger.Info("vehiclesim: mission cleared")
		if v.cfg.AckClear {
			v.send(&protocol.MissionAck{TargetSystem: frame.SystemID, TargetComponent: frame.ComponentID, Type: inter.MavMissionAccepted})
		}

	case *protocol.MissionCount:
		if m.TargetSystem != v.cfg.SystemID {
			return
		}
		v.mu.Lock()
		v.counts++
		v.mu.Unlock()
		if v.cfg.Silent {
			return
		}
		v.startTransfer(frame, int(m.Count))

	case *protocol.MissionItemInt:
		if m.TargetSystem != v.cfg.SystemID {
			return
		}
		v.receiveItem(m.Item)
	}
}

func (v *Vehicle) startTransfer(frame *inter.Frame, n int) {
	order := make([]uint16, 0, n)
	if v.cfg.Order != nil {
		order = v.cfg.Order(n)
	} else {
		for i := 0; i < n; i++ {
			order = append(order, uint16(i))
		}
	}

	t := &transfer{
		gcsSystem:    frame.SystemID,
		gcsComponent: frame.ComponentID,
		order:        order,
		items:        make([]inter.MissionItem, n),
	}
	v.mu.Lock()
	v.active = t
	v.mu.Unlock()
	v.cfg.Logger.Info("vehiclesim: mission count", "items", n)
	v.advance(t)
}

func (v *Vehicle) receiveItem(item inter.MissionItem) {
	v.mu.Lock()
	t := v.active
	v.mu.Unlock()
	if t == nil || t.next == 0 || t.order[t.next-1] != item.Seq {
		return
	}
	t.items[item.Seq] = item
	v.advance(t)
}

// advance requests the next scripted item or, when the script is done,
// sends the verdict
func (v *Vehicle) advance(t *transfer) {
	if t.next < len(t.order) {
		seq := t.order[t.next]
		t.next++
		v.send(&protocol.MissionRequest{
			Seq:             seq,
			TargetSystem:    t.gcsSystem,
			TargetComponent: t.gcsComponent,
			Int:             !v.cfg.LegacyRequests,
		})
		return
	}

	v.mu.Lock()
	v.active = nil
	if v.cfg.Result == inter.MavMissionAccepted {
		v.missions = append(v.missions, t.items)
	}
	v.mu.Unlock()
	v.cfg.Logger.Info("vehiclesim: mission complete", "items", len(t.items), "result", v.cfg.Result.String())
	v.send(&protocol.MissionAck{TargetSystem: t.gcsSystem, TargetComponent: t.gcsComponent, Type: v.cfg.Result})
}

func (v *Vehicle) heartbeat() {
	v.send(&protocol.Heartbeat{
		Type:           mavTypeQuadrotor,
		Autopilot:      mavAutopilotArdupilot,
		SystemStatus:   mavStateActive,
		MavlinkVersion: 3,
	})
}

func (v *Vehicle) send(msg inter.Message) {
	v.mu.Lock()
	seq := v.seq
	v.seq++
	peer := v.peer
	v.mu.Unlock()

	buf, err := v.codec.Pack(msg, inter.FrameHeader{Version: 2, Seq: seq, SystemID: v.cfg.SystemID, ComponentID: v.cfg.ComponentID})
	if err != nil {
		v.cfg.Logger.Error("vehiclesim: pack", "error", err)
		return
	}
	if v.connected {
		_, err = v.conn.Write(buf)
	} else if peer != nil {
		_, err = v.conn.WriteToUDP(buf, peer)
	}
	if err != nil {
		v.cfg.Logger.Debug("vehiclesim: send", "error", err)
	}
}
