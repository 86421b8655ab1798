package planner

import (
	"fmt"
	"strings"
)

// RowValidationError reports a flight-plan row whose shape violates the
// parsing rules. It is collected by Compile, never fatal on its own.
type RowValidationError struct {
	Index  int
	Reason string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Index, e.Reason)
}

// PlanError aggregates every problem found while compiling a flight plan.
// Any PlanError means nothing was compiled.
type PlanError struct {
	Rows []*RowValidationError
	// Reason is set for plan-level problems such as an invalid cruise altitude
	Reason string
}

func (e *PlanError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	for _, r := range e.Rows {
		parts = append(parts, r.Error())
	}
	return "invalid flight plan: " + strings.Join(parts, "; ")
}

// Indices lists the invalid row indices in row order
func (e *PlanError) Indices() []int {
	out := make([]int, 0, len(e.Rows))
	for _, r := range e.Rows {
		out = append(out, r.Index)
	}
	return out
}
