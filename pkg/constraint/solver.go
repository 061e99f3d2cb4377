package constraint

import (
	"fmt"
	"math"

	"brachyeval/pkg/radiobiology"
)

// SolveStatus says whether a dose-to-meet-constraint could be found
type SolveStatus int

const (
	Solved SolveStatus = iota
	// Unsolvable means the fixed contributions already use up the whole budget,
	// so the limit cannot be met even at zero plan dose
	Unsolvable
	// NoSolution means the quadratic has no usable non-negative root
	NoSolution
)

var solveStatusNames = [...]string{"solved", "unsolvable", "no-solution"}

func (s SolveStatus) String() string {
	if int(s) < len(solveStatusNames) {
		return solveStatusNames[s]
	}
	return fmt.Sprintf("solve-status(%d)", int(s))
}

// MarshalText encodes the status for reports
func (s SolveStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Solution is the per-fraction brachytherapy dose at which the constraint is
// met exactly. DosePerFraction is only meaningful when Status is Solved.
type Solution struct {
	Status          SolveStatus `json:"status"`
	DosePerFraction float64     `json:"dosePerFraction"`
	Reason          string      `json:"reason,omitempty"`
}

// Solve finds the per-fraction dose d* for this plan's n fractions such that
// the accumulated quantity equals the limit, holding the external-beam and
// prior BED fixed. For an upper bound d* is the maximum allowable dose; for a
// lower bound it is the minimum required dose.
//
// With remaining = target BED - external - prior, this plan's BED n·d + (n/ab)·d²
// must equal remaining, giving (n/ab)·d² + n·d - remaining = 0.
func Solve(c Constraint, fractions int, ab, externalBED, priorBED float64) Solution {
	if c.Quantity == Dose {
		return Solution{Status: Solved, DosePerFraction: c.Limit}
	}
	if fractions <= 0 {
		return Solution{Status: NoSolution, Reason: fmt.Sprintf("invalid fraction count %d", fractions)}
	}
	if ab <= 0 {
		return Solution{Status: NoSolution, Reason: fmt.Sprintf("invalid alpha/beta ratio %g", ab)}
	}

	target := c.Limit
	if c.Quantity == EQD2 {
		var err error
		if target, err = radiobiology.BEDFromEQD2(c.Limit, ab); err != nil {
			return Solution{Status: NoSolution, Reason: err.Error()}
		}
	}
	remaining := target - externalBED - priorBED
	if remaining <= 0 {
		return Solution{
			Status: Unsolvable,
			Reason: fmt.Sprintf("external and prior BED (%.2f Gy) already reach the %.2f Gy BED budget",
				externalBED+priorBED, target),
		}
	}

	n := float64(fractions)
	a, b := n/ab, n
	disc := b*b + 4*a*remaining
	if disc < 0 || math.IsNaN(disc) {
		return Solution{Status: NoSolution, Reason: "negative discriminant"}
	}
	// 2c/(-b - sqrt(disc)) form of the positive root; no cancellation for small a
	d := 2 * remaining / (b + math.Sqrt(disc))
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return Solution{Status: NoSolution, Reason: "no non-negative root"}
	}
	return Solution{Status: Solved, DosePerFraction: d}
}
