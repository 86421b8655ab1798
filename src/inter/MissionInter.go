package inter

import "fmt"

// =============================================================================
// Flight plan and mission data model
// =============================================================================

// FlightPlanRow is one row of the operator's flight-plan table. Absent cells
// are nil.
type FlightPlanRow struct {
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`
	// Delay is the hold time at the waypoint, or the wait of a pure-delay row (seconds)
	Delay *float64 `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Drop requests a payload release at the waypoint
	Drop bool `json:"drop" yaml:"drop"`
	// Servo is the servo output that releases the payload
	Servo *float64 `json:"servo,omitempty" yaml:"servo,omitempty"`
	// ServoValue is the PWM pulse written to the servo
	ServoValue *float64 `json:"servo_value,omitempty" yaml:"servo_value,omitempty"`
	// DropDelay is the wait after the release (seconds)
	DropDelay *float64 `json:"drop_delay,omitempty" yaml:"drop_delay,omitempty"`
}

// Float returns a pointer to v, for building rows in code
func Float(v float64) *float64 {
	return &v
}

// Instruction is one logical mission step. The set of implementations is
// closed: Takeoff, Waypoint, SetServo, Delay and ReturnToLaunch.
type Instruction interface {
	fmt.Stringer
	instruction()
}

// Takeoff climbs to Altitude (meters, relative to home)
type Takeoff struct {
	Altitude float64
}

// Waypoint flies to Lat/Lon at Altitude and holds there for HoldSeconds
type Waypoint struct {
	Lat         float64
	Lon         float64
	Altitude    float64
	HoldSeconds float64
}

// SetServo writes Pulse to servo output ServoID
type SetServo struct {
	ServoID float64
	Pulse   float64
}

// Delay waits Seconds before continuing
type Delay struct {
	Seconds float64
}

// ReturnToLaunch flies home and lands
type ReturnToLaunch struct{}

func (Takeoff) instruction()        {}
func (Waypoint) instruction()       {}
func (SetServo) instruction()       {}
func (Delay) instruction()          {}
func (ReturnToLaunch) instruction() {}

func (t Takeoff) String() string { return fmt.Sprintf("Takeoff(%g)", t.Altitude) }
func (w Waypoint) String() string {
	return fmt.Sprintf("Waypoint(%g,%g,%g,%g)", w.Lat, w.Lon, w.Altitude, w.HoldSeconds)
}
func (s SetServo) String() string     { return fmt.Sprintf("SetServo(%g,%g)", s.ServoID, s.Pulse) }
func (d Delay) String() string        { return fmt.Sprintf("Delay(%g)", d.Seconds) }
func (ReturnToLaunch) String() string { return "ReturnToLaunch" }

// MissionItem is one binary mission record as carried by MISSION_ITEM_INT.
// X and Y are degrees scaled by 1e7 for global frames and zero otherwise.
type MissionItem struct {
	Seq          uint16   `json:"seq"`
	Frame        MavFrame `json:"frame"`
	Command      MavCmd   `json:"command"`
	Current      uint8    `json:"current"`
	Autocontinue uint8    `json:"autocontinue"`
	Param1       float32  `json:"param1"`
	Param2       float32  `json:"param2"`
	Param3       float32  `json:"param3"`
	Param4       float32  `json:"param4"`
	X            int32    `json:"x"`
	Y            int32    `json:"y"`
	Z            float32  `json:"z"`
}

// MissionPlan is the ordered, immutable list of items sent in one upload
type MissionPlan struct {
	items []MissionItem
}

// NewMissionPlan takes ownership of items. Sequence numbers must already be
// dense from zero.
func NewMissionPlan(items []MissionItem) (*MissionPlan, error) {
	for i, it := range items {
		if int(it.Seq) != i {
			return nil, fmt.Errorf("mission item %d has sequence number %d", i, it.Seq)
		}
	}
	return &MissionPlan{items: items}, nil
}

// Count returns the number of items
func (p *MissionPlan) Count() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Item returns the item with sequence number seq
func (p *MissionPlan) Item(seq int) (MissionItem, bool) {
	if p == nil || seq < 0 || seq >= len(p.items) {
		return MissionItem{}, false
	}
	return p.items[seq], true
}

// Items returns a copy of the items in sequence order
func (p *MissionPlan) Items() []MissionItem {
	if p == nil {
		return nil
	}
	out := make([]MissionItem, len(p.items))
	copy(out, p.items)
	return out
}
