package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nhirsama/Goster-Mission/src/inter"
)

// msgDef describes the wire layout of one message definition
type msgDef struct {
	crcExtra byte
	// length includes extension fields
	length int
	// baseLength excludes extension fields (MAVLink 1 layout)
	baseLength int
}

var messageDefs = map[inter.MsgID]msgDef{
	inter.MsgHeartbeat:         {crcExtra: 50, length: 9, baseLength: 9},
	inter.MsgMissionItem:       {crcExtra: 254, length: 38, baseLength: 37},
	inter.MsgMissionRequest:    {crcExtra: 230, length: 5, baseLength: 4},
	inter.MsgMissionCount:      {crcExtra: 221, length: 5, baseLength: 4},
	inter.MsgMissionClearAll:   {crcExtra: 232, length: 3, baseLength: 2},
	inter.MsgMissionAck:        {crcExtra: 153, length: 4, baseLength: 3},
	inter.MsgMissionRequestInt: {crcExtra: 196, length: 5, baseLength: 4},
	inter.MsgMissionItemInt:    {crcExtra: 38, length: 38, baseLength: 37},
}

// Heartbeat (#0)
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (*Heartbeat) MsgID() inter.MsgID { return inter.MsgHeartbeat }

func (m *Heartbeat) MarshalPayload() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:], m.CustomMode)
	buf[4] = m.Type
	buf[5] = m.Autopilot
	buf[6] = m.BaseMode
	buf[7] = m.SystemStatus
	buf[8] = m.MavlinkVersion
	return buf
}

// MissionClearAll (#45)
type MissionClearAll struct {
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     inter.MavMissionType
}

func (*MissionClearAll) MsgID() inter.MsgID { return inter.MsgMissionClearAll }

func (m *MissionClearAll) MarshalPayload() []byte {
	return []byte{m.TargetSystem, m.TargetComponent, byte(m.MissionType)}
}

// MissionCount (#44)
type MissionCount struct {
	Count           uint16
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     inter.MavMissionType
}

func (*MissionCount) MsgID() inter.MsgID { return inter.MsgMissionCount }

func (m *MissionCount) MarshalPayload() []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint16(buf[0:], m.Count)
	buf[2] = m.TargetSystem
	buf[3] = m.TargetComponent
	buf[4] = byte(m.MissionType)
	return buf
}

// MissionRequest is the pull request for one item. Int distinguishes
// MISSION_REQUEST_INT (#51) from the legacy MISSION_REQUEST (#40); both share
// one layout.
type MissionRequest struct {
	Seq             uint16
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     inter.MavMissionType
	Int             bool
}

func (m *MissionRequest) MsgID() inter.MsgID {
	if m.Int {
		return inter.MsgMissionRequestInt
	}
	return inter.MsgMissionRequest
}

func (m *MissionRequest) MarshalPayload() []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint16(buf[0:], m.Seq)
	buf[2] = m.TargetSystem
	buf[3] = m.TargetComponent
	buf[4] = byte(m.MissionType)
	return buf
}

// MissionItemInt (#73)
type MissionItemInt struct {
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     inter.MavMissionType
	Item            inter.MissionItem
}

func (*MissionItemInt) MsgID() inter.MsgID { return inter.MsgMissionItemInt }

// MarshalPayload lays fields out largest first as the MAVLink wire order
// requires: params, x, y, z, seq, command, then the single-byte fields.
func (m *MissionItemInt) MarshalPayload() []byte {
	it := m.Item
	buf := make([]byte, 38)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(it.Param1))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(it.Param2))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(it.Param3))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(it.Param4))
	binary.LittleEndian.PutUint32(buf[16:], uint32(it.X))
	binary.LittleEndian.PutUint32(buf[20:], uint32(it.Y))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(it.Z))
	binary.LittleEndian.PutUint16(buf[28:], it.Seq)
	binary.LittleEndian.PutUint16(buf[30:], uint16(it.Command))
	buf[32] = m.TargetSystem
	buf[33] = m.TargetComponent
	buf[34] = byte(it.Frame)
	buf[35] = it.Current
	buf[36] = it.Autocontinue
	buf[37] = byte(m.MissionType)
	return buf
}

// MissionAck (#47)
type MissionAck struct {
	TargetSystem    uint8
	TargetComponent uint8
	Type            inter.MavMissionResult
	MissionType     inter.MavMissionType
}

func (*MissionAck) MsgID() inter.MsgID { return inter.MsgMissionAck }

func (m *MissionAck) MarshalPayload() []byte {
	return []byte{m.TargetSystem, m.TargetComponent, byte(m.Type), byte(m.MissionType)}
}

// Decode turns a frame into its typed message. MISSION_ITEM (#39) frames are
// recognised by the codec but not decoded: this module only speaks the
// integer-coordinate item.
func Decode(f *inter.Frame) (inter.Message, error) {
	def, ok := messageDefs[f.MsgID]
	if !ok || f.MsgID == inter.MsgMissionItem {
		return nil, &UnknownMessageError{MsgID: f.MsgID}
	}
	p := f.Payload
	if len(p) < def.length {
		if len(p) < def.baseLength {
			return nil, fmt.Errorf("mavlink: message %d: %w", f.MsgID, errShortPayload)
		}
		full := make([]byte, def.length)
		copy(full, p)
		p = full
	}

	switch f.MsgID {
	case inter.MsgHeartbeat:
		return &Heartbeat{
			CustomMode:     binary.LittleEndian.Uint32(p[0:]),
			Type:           p[4],
			Autopilot:      p[5],
			BaseMode:       p[6],
			SystemStatus:   p[7],
			MavlinkVersion: p[8],
		}, nil
	case inter.MsgMissionClearAll:
		return &MissionClearAll{TargetSystem: p[0], TargetComponent: p[1], MissionType: inter.MavMissionType(p[2])}, nil
	case inter.MsgMissionCount:
		return &MissionCount{
			Count:           binary.LittleEndian.Uint16(p[0:]),
			TargetSystem:    p[2],
			TargetComponent: p[3],
			MissionType:     inter.MavMissionType(p[4]),
		}, nil
	case inter.MsgMissionRequest, inter.MsgMissionRequestInt:
		return &MissionRequest{
			Seq:             binary.LittleEndian.Uint16(p[0:]),
			TargetSystem:    p[2],
			TargetComponent: p[3],
			MissionType:     inter.MavMissionType(p[4]),
			Int:             f.MsgID == inter.MsgMissionRequestInt,
		}, nil
	case inter.MsgMissionItemInt:
		return &MissionItemInt{
			TargetSystem:    p[32],
			TargetComponent: p[33],
			MissionType:     inter.MavMissionType(p[37]),
			Item: inter.MissionItem{
				Param1:       math.Float32frombits(binary.LittleEndian.Uint32(p[0:])),
				Param2:       math.Float32frombits(binary.LittleEndian.Uint32(p[4:])),
				Param3:       math.Float32frombits(binary.LittleEndian.Uint32(p[8:])),
				Param4:       math.Float32frombits(binary.LittleEndian.Uint32(p[12:])),
				X:            int32(binary.LittleEndian.Uint32(p[16:])),
				Y:            int32(binary.LittleEndian.Uint32(p[20:])),
				Z:            math.Float32frombits(binary.LittleEndian.Uint32(p[24:])),
				Seq:          binary.LittleEndian.Uint16(p[28:]),
				Command:      inter.MavCmd(binary.LittleEndian.Uint16(p[30:])),
				Frame:        inter.MavFrame(p[34]),
				Current:      p[35],
				Autocontinue: p[36],
			},
		}, nil
	case inter.MsgMissionAck:
		return &MissionAck{
			TargetSystem:    p[0],
			TargetComponent: p[1],
			Type:            inter.MavMissionResult(p[2]),
			MissionType:     inter.MavMissionType(p[3]),
		}, nil
	}
	return nil, &UnknownMessageError{MsgID: f.MsgID}
}
