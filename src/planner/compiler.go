package planner

import (
	"math"

	"github.com/nhirsama/Goster-Mission/src/inter"
)

// Option adjusts how rows are compiled
type Option func(*RowDefaults)

// WithServoPWM sets the pulse used by drop rows without a servo value
func WithServoPWM(pwm float64) Option {
	return func(d *RowDefaults) {
		if pwm > 0 {
			d.ServoPWM = pwm
		}
	}
}

// WithRowAltitude lets a row's own altitude override the cruise altitude
func WithRowAltitude(enabled bool) Option {
	return func(d *RowDefaults) {
		d.UseRowAltitude = enabled
	}
}

// Compile builds the full instruction sequence for a flight plan:
// Takeoff(cruiseAltitude), each row's fragment in row order, ReturnToLaunch.
//
// All rows are validated before anything is returned; if any row is invalid
// the result is a *PlanError listing every bad row.
func Compile(rows []inter.FlightPlanRow, cruiseAltitude float64, opts ...Option) ([]inter.Instruction, error) {
	d := RowDefaults{CruiseAltitude: cruiseAltitude, ServoPWM: DefaultServoPWM}
	for _, opt := range opts {
		opt(&d)
	}

	planErr := &PlanError{}
	if math.IsNaN(cruiseAltitude) || math.IsInf(cruiseAltitude, 0) || cruiseAltitude <= 0 {
		planErr.Reason = "cruise altitude must be positive"
	}

	out := make([]inter.Instruction, 0, len(rows)+2)
	out = append(out, inter.Takeoff{Altitude: cruiseAltitude})
	for i, row := range rows {
		frag, err := ParseRow(i, row, d)
		if err != nil {
			rowErr, ok := err.(*RowValidationError)
			if !ok {
				rowErr = &RowValidationError{Index: i, Reason: err.Error()}
			}
			planErr.Rows = append(planErr.Rows, rowErr)
			continue
		}
		out = append(out, frag...)
	}
	out = append(out, inter.ReturnToLaunch{})

	if planErr.Reason != "" || len(planErr.Rows) > 0 {
		return nil, planErr
	}
	return out, nil
}
