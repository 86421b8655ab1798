package planner

import (
	"math"

	"github.com/nhirsama/Goster-Mission/src/inter"
)

// DefaultServoPWM is the pulse written on a payload drop when the row does
// not carry one
const DefaultServoPWM = 1500

// RowDefaults carries the plan-wide values a row may fall back on
type RowDefaults struct {
	// CruiseAltitude is used for every waypoint unless UseRowAltitude is set
	// and the row has an altitude
	CruiseAltitude float64
	ServoPWM       float64
	UseRowAltitude bool
}

// ParseRow turns one flight-plan row into its instruction fragment.
//
//   - lat+lon, no drop: [Waypoint]
//   - lat+lon, drop with servo and drop delay: [Waypoint, SetServo, Delay]
//   - no lat/lon, delay: [Delay]
//   - no lat, lon or delay: nil (empty row)
//
// Every other shape is a *RowValidationError.
func ParseRow(index int, row inter.FlightPlanRow, d RowDefaults) ([]inter.Instruction, error) {
	hasLat, hasLon := row.Latitude != nil, row.Longitude != nil

	switch {
	case hasLat && hasLon:
		return parseWaypointRow(index, row, d)

	case !hasLat && !hasLon && row.Delay != nil:
		if err := checkDuration(index, "delay", *row.Delay); err != nil {
			return nil, err
		}
		return []inter.Instruction{inter.Delay{Seconds: *row.Delay}}, nil

	case !hasLat && !hasLon:
		return nil, nil

	case hasLat:
		return nil, &RowValidationError{Index: index, Reason: "latitude without longitude"}

	default:
		return nil, &RowValidationError{Index: index, Reason: "longitude without latitude"}
	}
}

func parseWaypointRow(index int, row inter.FlightPlanRow, d RowDefaults) ([]inter.Instruction, error) {
	lat, lon := *row.Latitude, *row.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, &RowValidationError{Index: index, Reason: "latitude out of range"}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, &RowValidationError{Index: index, Reason: "longitude out of range"}
	}

	hold := 0.0
	if row.Delay != nil {
		if err := checkDuration(index, "delay", *row.Delay); err != nil {
			return nil, err
		}
		hold = *row.Delay
	}

	alt := d.CruiseAltitude
	if d.UseRowAltitude && row.Altitude != nil {
		if math.IsNaN(*row.Altitude) || math.IsInf(*row.Altitude, 0) {
			return nil, &RowValidationError{Index: index, Reason: "altitude is not a number"}
		}
		alt = *row.Altitude
	}

	wp := inter.Waypoint{Lat: lat, Lon: lon, Altitude: alt, HoldSeconds: hold}
	if !row.Drop {
		return []inter.Instruction{wp}, nil
	}

	if row.Servo == nil || row.DropDelay == nil {
		return nil, &RowValidationError{Index: index, Reason: "drop requires servo and drop_delay"}
	}
	if err := checkDuration(index, "drop_delay", *row.DropDelay); err != nil {
		return nil, err
	}
	if math.IsNaN(*row.Servo) || *row.Servo < 0 {
		return nil, &RowValidationError{Index: index, Reason: "servo must be a non-negative number"}
	}

	pwm := d.ServoPWM
	if pwm == 0 {
		pwm = DefaultServoPWM
	}
	if row.ServoValue != nil {
		pwm = *row.ServoValue
	}

	return []inter.Instruction{
		wp,
		inter.SetServo{ServoID: *row.Servo, Pulse: pwm},
		inter.Delay{Seconds: *row.DropDelay},
	}, nil
}

func checkDuration(index int, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return &RowValidationError{Index: index, Reason: field + " must be a non-negative number"}
	}
	return nil
}
