package inter

import (
	"io"
	"strconv"
)

// =============================================================================
// MAVLink constants and types
// =============================================================================

const (
	// MagicV1 is the start-of-frame marker of a MAVLink 1 frame
	MagicV1 byte = 0xFE
	// MagicV2 is the start-of-frame marker of a MAVLink 2 frame
	MagicV2 byte = 0xFD
	// HeaderSizeV1 is STX, LEN, SEQ, SYSID, COMPID, MSGID
	HeaderSizeV1 = 6
	// HeaderSizeV2 is STX, LEN, INCOMPAT, COMPAT, SEQ, SYSID, COMPID, MSGID(3)
	HeaderSizeV2 = 10
	// ChecksumSize is the CRC-16/MCRF4XX trailer
	ChecksumSize = 2
	// MaxPayloadSize is the largest payload a frame may carry
	MaxPayloadSize = 255
)

// MsgID identifies a MAVLink message definition
type MsgID uint32

// Messages used by the mission upload handshake
const (
	// MsgHeartbeat is the periodic liveness signal
	MsgHeartbeat MsgID = 0
	// MsgMissionItem is the legacy float-coordinate mission item (decode only)
	MsgMissionItem MsgID = 39
	// MsgMissionRequest is the legacy item pull request
	MsgMissionRequest MsgID = 40
	// MsgMissionCount announces the number of items to transfer
	MsgMissionCount MsgID = 44
	// MsgMissionClearAll deletes the stored mission
	MsgMissionClearAll MsgID = 45
	// MsgMissionAck terminates a transfer with a MavMissionResult
	MsgMissionAck MsgID = 47
	// MsgMissionRequestInt is the item pull request answered with MISSION_ITEM_INT
	MsgMissionRequestInt MsgID = 51
	// MsgMissionItemInt carries one mission item with fixed-point coordinates
	MsgMissionItemInt MsgID = 73
)

// MavCmd is a MAV_CMD command code carried by a mission item
type MavCmd uint16

const (
	MavCmdNavWaypoint       MavCmd = 16
	MavCmdNavReturnToLaunch MavCmd = 20
	MavCmdNavLand           MavCmd = 21
	MavCmdNavTakeoff        MavCmd = 22
	MavCmdNavDelay          MavCmd = 93
	MavCmdDoSetServo        MavCmd = 183
)

func (c MavCmd) String() string {
	switch c {
	case MavCmdNavWaypoint:
		return "NAV_WAYPOINT"
	case MavCmdNavReturnToLaunch:
		return "NAV_RETURN_TO_LAUNCH"
	case MavCmdNavLand:
		return "NAV_LAND"
	case MavCmdNavTakeoff:
		return "NAV_TAKEOFF"
	case MavCmdNavDelay:
		return "NAV_DELAY"
	case MavCmdDoSetServo:
		return "DO_SET_SERVO"
	}
	return "MAV_CMD(" + strconv.Itoa(int(c)) + ")"
}

// MavFrame is the MAV_FRAME coordinate frame of a mission item
type MavFrame uint8

const (
	MavFrameGlobal            MavFrame = 0
	MavFrameMission           MavFrame = 2
	MavFrameGlobalRelativeAlt MavFrame = 3
)

func (f MavFrame) String() string {
	switch f {
	case MavFrameGlobal:
		return "GLOBAL"
	case MavFrameMission:
		return "MISSION"
	case MavFrameGlobalRelativeAlt:
		return "GLOBAL_RELATIVE_ALT"
	}
	return "MAV_FRAME(" + strconv.Itoa(int(f)) + ")"
}

// MavMissionType selects which of the vehicle's plans a transfer targets
type MavMissionType uint8

const (
	MavMissionTypeMission MavMissionType = 0
	MavMissionTypeFence   MavMissionType = 1
	MavMissionTypeRally   MavMissionType = 2
	MavMissionTypeAll     MavMissionType = 255
)

// MavMissionResult is the status carried by MISSION_ACK
type MavMissionResult uint8

const (
	MavMissionAccepted          MavMissionResult = 0
	MavMissionError             MavMissionResult = 1
	MavMissionUnsupportedFrame  MavMissionResult = 2
	MavMissionUnsupported       MavMissionResult = 3
	MavMissionNoSpace           MavMissionResult = 4
	MavMissionInvalid           MavMissionResult = 5
	MavMissionInvalidParam1     MavMissionResult = 6
	MavMissionInvalidParam2     MavMissionResult = 7
	MavMissionInvalidParam3     MavMissionResult = 8
	MavMissionInvalidParam4     MavMissionResult = 9
	MavMissionInvalidParam5X    MavMissionResult = 10
	MavMissionInvalidParam6Y    MavMissionResult = 11
	MavMissionInvalidParam7     MavMissionResult = 12
	MavMissionInvalidSequence   MavMissionResult = 13
	MavMissionDenied            MavMissionResult = 14
	MavMissionOperationCanceled MavMissionResult = 15
)

var missionResultNames = map[MavMissionResult]string{
	MavMissionAccepted:          "ACCEPTED",
	MavMissionError:             "ERROR",
	MavMissionUnsupportedFrame:  "UNSUPPORTED_FRAME",
	MavMissionUnsupported:       "UNSUPPORTED",
	MavMissionNoSpace:           "NO_SPACE",
	MavMissionInvalid:           "INVALID",
	MavMissionInvalidParam1:     "INVALID_PARAM1",
	MavMissionInvalidParam2:     "INVALID_PARAM2",
	MavMissionInvalidParam3:     "INVALID_PARAM3",
	MavMissionInvalidParam4:     "INVALID_PARAM4",
	MavMissionInvalidParam5X:    "INVALID_PARAM5_X",
	MavMissionInvalidParam6Y:    "INVALID_PARAM6_Y",
	MavMissionInvalidParam7:     "INVALID_PARAM7",
	MavMissionInvalidSequence:   "INVALID_SEQUENCE",
	MavMissionDenied:            "DENIED",
	MavMissionOperationCanceled: "OPERATION_CANCELLED",
}

func (r MavMissionResult) String() string {
	if s, ok := missionResultNames[r]; ok {
		return "MAV_MISSION_" + s
	}
	return "MAV_MISSION_RESULT(" + strconv.Itoa(int(r)) + ")"
}

// Frame is one decoded MAVLink frame. Payload is zero-extended to the
// message's full length when the definition is known.
type Frame struct {
	// Version is 1 or 2
	Version     uint8
	Seq         uint8
	SystemID    uint8
	ComponentID uint8
	MsgID       MsgID
	Payload     []byte
}

// FrameHeader holds the sender fields stamped on an outgoing frame
type FrameHeader struct {
	Version     uint8
	Seq         uint8
	SystemID    uint8
	ComponentID uint8
}

// Message is a typed MAVLink message that knows its own payload layout
type Message interface {
	MsgID() MsgID
	// MarshalPayload returns the untruncated wire payload
	MarshalPayload() []byte
}

// ProtocolCodec frames and unframes MAVLink messages
type ProtocolCodec interface {
	// Pack serializes msg into a complete frame using the header fields
	Pack(msg Message, hdr FrameHeader) ([]byte, error)

	// Unpack reads the next valid frame from r, skipping bytes until a
	// start-of-frame marker is found
	Unpack(r io.Reader) (*Frame, error)
}
