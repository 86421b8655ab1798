package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/sigurn/crc16"
)

// MavlinkCodec implements inter.ProtocolCodec for MAVLink 1 and 2 framing
type MavlinkCodec struct{}

// NewMavlinkCodec creates a codec. The codec is stateless; sequence numbers
// are supplied by the caller in the frame header.
func NewMavlinkCodec() inter.ProtocolCodec {
	return &MavlinkCodec{}
}

// MAVLink's "X.25" checksum is CRC-16/MCRF4XX (init 0xFFFF, reflected, no xor-out)
var mcrf4xxTable = crc16.MakeTable(crc16.CRC16_MCRF4XX)

// incompatFlagSigned marks a v2 frame followed by a 13-byte signature
const incompatFlagSigned = 0x01

const signatureSize = 13

var errShortPayload = errors.New("payload shorter than message definition")

// ChecksumError is returned by Unpack for a frame whose CRC does not match
type ChecksumError struct {
	MsgID    inter.MsgID
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("mavlink: checksum mismatch for message %d: expected 0x%04X, got 0x%04X",
		e.MsgID, e.Expected, e.Actual)
}

// UnknownMessageError is returned by Unpack for a message id the codec has
// no definition for. The frame has been consumed from the reader.
type UnknownMessageError struct {
	MsgID inter.MsgID
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("mavlink: unknown message id %d", e.MsgID)
}

func checksum(body []byte, crcExtra byte) uint16 {
	crc := crc16.Init(mcrf4xxTable)
	crc = crc16.Update(crc, body, mcrf4xxTable)
	crc = crc16.Update(crc, []byte{crcExtra}, mcrf4xxTable)
	return crc16.Complete(crc, mcrf4xxTable)
}

func (c *MavlinkCodec) Pack(msg inter.Message, hdr inter.FrameHeader) ([]byte, error) {
	id := msg.MsgID()
	def, ok := messageDefs[id]
	if !ok {
		return nil, &UnknownMessageError{MsgID: id}
	}

	payload := msg.MarshalPayload()
	if len(payload) != def.length {
		return nil, fmt.Errorf("mavlink: message %d payload is %d bytes, want %d", id, len(payload), def.length)
	}

	var buf []byte
	switch hdr.Version {
	case 1:
		if id > 0xFF {
			return nil, fmt.Errorf("mavlink: message %d cannot be sent as MAVLink 1", id)
		}
		// v1 frames carry no extension fields
		payload = payload[:def.baseLength]
		buf = make([]byte, inter.HeaderSizeV1, inter.HeaderSizeV1+len(payload)+inter.ChecksumSize)
		buf[0] = inter.MagicV1
		buf[1] = byte(len(payload))
		buf[2] = hdr.Seq
		buf[3] = hdr.SystemID
		buf[4] = hdr.ComponentID
		buf[5] = byte(id)
	case 0, 2:
		// v2 senders drop trailing zero bytes; at least one byte stays
		n := len(payload)
		for n > 1 && payload[n-1] == 0 {
			n--
		}
		payload = payload[:n]
		buf = make([]byte, inter.HeaderSizeV2, inter.HeaderSizeV2+len(payload)+inter.ChecksumSize)
		buf[0] = inter.MagicV2
		buf[1] = byte(len(payload))
		buf[2] = 0 // incompat flags
		buf[3] = 0 // compat flags
		buf[4] = hdr.Seq
		buf[5] = hdr.SystemID
		buf[6] = hdr.ComponentID
		buf[7] = byte(id)
		buf[8] = byte(id >> 8)
		buf[9] = byte(id >> 16)
	default:
		return nil, fmt.Errorf("mavlink: unsupported protocol version %d", hdr.Version)
	}

	buf = append(buf, payload...)
	crc := checksum(buf[1:], def.crcExtra)
	buf = binary.LittleEndian.AppendUint16(buf, crc)
	return buf, nil
}

// readRest reads the remainder of a frame whose start marker was already
// consumed. Running out of bytes there is always a truncated frame, so io.EOF
// becomes io.ErrUnexpectedEOF.
func readRest(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (c *MavlinkCodec) Unpack(r io.Reader) (*inter.Frame, error) {
	magic := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, magic); err != nil {
			return nil, err
		}
		if magic[0] == inter.MagicV1 || magic[0] == inter.MagicV2 {
			break
		}
	}

	frame := &inter.Frame{}
	var header []byte
	var payloadLen int
	var signed bool

	if magic[0] == inter.MagicV2 {
		header = make([]byte, inter.HeaderSizeV2)
		header[0] = magic[0]
		if err := readRest(r, header[1:]); err != nil {
			return nil, err
		}
		payloadLen = int(header[1])
		signed = header[2]&incompatFlagSigned != 0
		frame.Version = 2
		frame.Seq = header[4]
		frame.SystemID = header[5]
		frame.ComponentID = header[6]
		frame.MsgID = inter.MsgID(uint32(header[7]) | uint32(header[8])<<8 | uint32(header[9])<<16)
	} else {
		header = make([]byte, inter.HeaderSizeV1)
		header[0] = magic[0]
		if err := readRest(r, header[1:]); err != nil {
			return nil, err
		}
		payloadLen = int(header[1])
		frame.Version = 1
		frame.Seq = header[2]
		frame.SystemID = header[3]
		frame.ComponentID = header[4]
		frame.MsgID = inter.MsgID(header[5])
	}

	// Payload + CRC (+ signature) in one read
	bodyLen := payloadLen + inter.ChecksumSize
	if signed {
		bodyLen += signatureSize
	}
	body := make([]byte, bodyLen)
	if err := readRest(r, body); err != nil {
		return nil, err
	}
	payload := body[:payloadLen]

	def, ok := messageDefs[frame.MsgID]
	if !ok {
		return nil, &UnknownMessageError{MsgID: frame.MsgID}
	}

	expected := binary.LittleEndian.Uint16(body[payloadLen:])
	crcInput := make([]byte, 0, len(header)-1+payloadLen)
	crcInput = append(crcInput, header[1:]...)
	crcInput = append(crcInput, payload...)
	if actual := checksum(crcInput, def.crcExtra); actual != expected {
		return nil, &ChecksumError{MsgID: frame.MsgID, Expected: expected, Actual: actual}
	}

	// Zero-extend truncated payloads so decoders see the full layout
	if len(payload) < def.length {
		full := make([]byte, def.length)
		copy(full, payload)
		payload = full
	}
	frame.Payload = payload
	return frame, nil
}
