// Package encoder maps compiled instructions onto MAVLink mission items.
package encoder

import (
	"fmt"
	"math"

	"github.com/nhirsama/Goster-Mission/src/inter"
)

// CoordinateScale converts degrees to the fixed-point integers carried by
// MISSION_ITEM_INT
const CoordinateScale = 1e7

// MaxItems is the largest plan a 16-bit sequence number can address
const MaxItems = math.MaxUint16

type config struct {
	firstItemCurrent bool
}

// Option configures Encode
type Option func(*config)

// WithFirstItemCurrent marks item 0 as the current item, for autopilots that
// expect it
func WithFirstItemCurrent() Option {
	return func(c *config) {
		c.firstItemCurrent = true
	}
}

// Encode turns an instruction sequence into a mission plan. Every instruction
// yields exactly one item; sequence numbers are dense from zero in
// instruction order.
func Encode(instructions []inter.Instruction, opts ...Option) (*inter.MissionPlan, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(instructions) > MaxItems {
		return nil, fmt.Errorf("encoder: %d instructions exceed the %d item limit", len(instructions), MaxItems)
	}

	items := make([]inter.MissionItem, 0, len(instructions))
	for i, in := range instructions {
		item, err := encodeOne(in)
		if err != nil {
			return nil, fmt.Errorf("encoder: instruction %d: %w", i, err)
		}
		item.Seq = uint16(i)
		item.Autocontinue = 1
		if i == 0 && cfg.firstItemCurrent {
			item.Current = 1
		}
		items = append(items, item)
	}
	return inter.NewMissionPlan(items)
}

func encodeOne(in inter.Instruction) (inter.MissionItem, error) {
	switch v := in.(type) {
	case inter.Takeoff:
		return inter.MissionItem{
			Frame:   inter.MavFrameGlobalRelativeAlt,
			Command: inter.MavCmdNavTakeoff,
			Z:       float32(v.Altitude),
		}, nil

	case inter.Waypoint:
		return inter.MissionItem{
			Frame:   inter.MavFrameGlobalRelativeAlt,
			Command: inter.MavCmdNavWaypoint,
			Param1:  float32(v.HoldSeconds),
			X:       ScaleDegrees(v.Lat),
			Y:       ScaleDegrees(v.Lon),
			Z:       float32(v.Altitude),
		}, nil

	case inter.SetServo:
		return inter.MissionItem{
			Frame:   inter.MavFrameMission,
			Command: inter.MavCmdDoSetServo,
			Param1:  float32(v.ServoID),
			Param2:  float32(v.Pulse),
		}, nil

	case inter.Delay:
		return inter.MissionItem{
			Frame:   inter.MavFrameMission,
			Command: inter.MavCmdNavDelay,
			Param1:  float32(v.Seconds),
		}, nil

	case inter.ReturnToLaunch:
		return inter.MissionItem{
			Frame:   inter.MavFrameMission,
			Command: inter.MavCmdNavReturnToLaunch,
		}, nil
	}
	return inter.MissionItem{}, fmt.Errorf("unsupported instruction %T", in)
}

// ScaleDegrees converts an angle to 1e-7 degree units, truncating toward zero
func ScaleDegrees(deg float64) int32 {
	return int32(deg * CoordinateScale)
}

// Degrees is the inverse of ScaleDegrees
func Degrees(v int32) float64 {
	return float64(v) / CoordinateScale
}
