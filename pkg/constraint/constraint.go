// Package constraint checks accumulated dose metrics against clinical limits
// and solves for the per-fraction dose that meets an unmet limit.
package constraint

import (
	"fmt"
	"strings"

	"brachyeval/pkg/dvh"
)

// Direction says whether a limit is an upper or a lower bound
type Direction int

const (
	Max Direction = iota
	Min
)

// ParseDirection accepts "max" or "min"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max", "":
		return Max, nil
	case "min":
		return Min, nil
	}
	return Max, fmt.Errorf("unknown constraint direction %q", s)
}

func (d Direction) String() string {
	if d == Min {
		return "min"
	}
	return "max"
}

// MarshalText encodes the direction for reports
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Quantity is the value a limit applies to
type Quantity int

const (
	// EQD2 is the accumulated EQD2 over all sources
	EQD2 Quantity = iota
	// BED is the accumulated BED over all sources
	BED
	// Dose is this plan's physical dose per fraction
	Dose
)

// ParseQuantity accepts "EQD2", "BED" or "Dose"
func ParseQuantity(s string) (Quantity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eqd2", "":
		return EQD2, nil
	case "bed":
		return BED, nil
	case "dose", "physical":
		return Dose, nil
	}
	return EQD2, fmt.Errorf("unknown constraint quantity %q", s)
}

func (q Quantity) String() string {
	switch q {
	case BED:
		return "BED"
	case Dose:
		return "Dose"
	}
	return "EQD2"
}

// MarshalText encodes the quantity for reports
func (q Quantity) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Constraint is a typed limit on one metric of one organ.
// Constraints are resolved from configuration once and passed into each evaluation.
type Constraint struct {
	Organ     string
	Metric    dvh.Metric
	Quantity  Quantity
	Direction Direction
	Limit     float64

	// Warning is an optional alert level inside the limit
	Warning *float64
}

func (c Constraint) String() string {
	op := "<="
	if c.Direction == Min {
		op = ">="
	}
	return fmt.Sprintf("%s %s %s %s %.2f", c.Organ, c.Metric.Name, c.Quantity, op, c.Limit)
}

// Status is the outcome of checking one constraint
type Status int

const (
	Met Status = iota
	Warning
	NotMet
	NotEvaluable
)

var statusNames = [...]string{"Met", "Warning", "NOT Met", "Not evaluable"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status for reports
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the result of checking a constraint against a value
type Outcome struct {
	Status Status   `json:"status"`
	Value  *float64 `json:"value"`
	Reason string   `json:"reason,omitempty"`
}

// Satisfied reports whether the limit holds. Warnings hold; not evaluable does not.
func (o Outcome) Satisfied() bool {
	return o.Status == Met || o.Status == Warning
}

// Evaluate compares value with the constraint. A nil value means the metric
// could not be computed and yields NotEvaluable, never Met.
func Evaluate(c Constraint, value *float64) Outcome {
	if value == nil {
		return Outcome{Status: NotEvaluable, Reason: fmt.Sprintf("%s %s unavailable", c.Metric.Name, c.Quantity)}
	}
	v := *value
	out := Outcome{Value: &v}

	switch c.Direction {
	case Min:
		switch {
		case v < c.Limit:
			out.Status = NotMet
		case c.Warning != nil && v < *c.Warning:
			out.Status = Warning
		default:
			out.Status = Met
		}
	default:
		switch {
		case v > c.Limit:
			out.Status = NotMet
		case c.Warning != nil && v > *c.Warning:
			out.Status = Warning
		default:
			out.Status = Met
		}
	}
	return out
}
