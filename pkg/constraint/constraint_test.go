package constraint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brachyeval/pkg/dvh"
	"brachyeval/pkg/radiobiology"
)

func d2cc() dvh.Metric {
	m, _ := dvh.ParseMetric("D2cc")
	return m
}

func ptr(v float64) *float64 { return &v }

func TestEvaluateMax(t *testing.T) {
	c := Constraint{Organ: "Bladder", Metric: d2cc(), Quantity: EQD2, Direction: Max, Limit: 80, Warning: ptr(75)}

	tests := []struct {
		value    float64
		expected Status
	}{
		{60, Met},
		{75, Met},
		{77, Warning},
		{80, Warning},
		{80.01, NotMet},
	}
	for _, tc := range tests {
		out := Evaluate(c, ptr(tc.value))
		assert.Equal(t, tc.expected, out.Status, "value %g", tc.value)
		require.NotNil(t, out.Value)
		assert.Equal(t, tc.value, *out.Value)
	}
}

func TestEvaluateMin(t *testing.T) {
	c := Constraint{Organ: "Ctv-hr", Metric: d2cc(), Quantity: EQD2, Direction: Min, Limit: 85, Warning: ptr(90)}

	assert.Equal(t, Met, Evaluate(c, ptr(95)).Status)
	assert.Equal(t, Warning, Evaluate(c, ptr(87)).Status)
	assert.Equal(t, NotMet, Evaluate(c, ptr(84.9)).Status)

	c.Warning = nil
	assert.Equal(t, Met, Evaluate(c, ptr(85)).Status)
}

func TestEvaluateMissingValue(t *testing.T) {
	c := Constraint{Organ: "Rectum", Metric: d2cc(), Quantity: EQD2, Limit: 65}
	out := Evaluate(c, nil)
	assert.Equal(t, NotEvaluable, out.Status)
	assert.False(t, out.Satisfied())
	assert.Nil(t, out.Value)
	assert.NotEmpty(t, out.Reason)
}

func TestSolveScenario(t *testing.T) {
	// EQD2 75 at ab 3 is a BED budget of 125; 30 is already used
	c := Constraint{Organ: "Bladder", Metric: d2cc(), Quantity: EQD2, Limit: 75}
	sol := Solve(c, 4, 3, 20, 10)
	require.Equal(t, Solved, sol.Status, sol.Reason)
	assert.InDelta(t, 7.073, sol.DosePerFraction, 1e-3)

	// (4/3)d² + 4d - 95 = 0
	residual := 4.0/3*sol.DosePerFraction*sol.DosePerFraction + 4*sol.DosePerFraction - 95
	assert.InDelta(t, 0, residual, 1e-9)
}

func TestSolveBEDQuantity(t *testing.T) {
	c := Constraint{Organ: "Bladder", Metric: d2cc(), Quantity: BED, Limit: 75}
	sol := Solve(c, 4, 3, 20, 10)
	require.Equal(t, Solved, sol.Status)
	assert.InDelta(t, 5.641, sol.DosePerFraction, 1e-3)
}

// TestSolveSelfConsistent substitutes d* back into the accumulation and
// expects the limit to be reproduced
func TestSolveSelfConsistent(t *testing.T) {
	cases := []struct {
		quantity  Quantity
		limit     float64
		ab        float64
		fractions int
		ebrt      *radiobiology.Schedule
		prior     *float64
	}{
		{EQD2, 75, 3, 4, &radiobiology.Schedule{Fractions: 25, DosePerFraction: 1.8}, ptr(5)},
		{EQD2, 85, 10, 3, &radiobiology.Schedule{Fractions: 25, DosePerFraction: 1.8}, nil},
		{EQD2, 90, 8, 4, nil, nil},
		{BED, 120, 3, 2, nil, ptr(12)},
		{EQD2, 65, 3, 1, &radiobiology.Schedule{Fractions: 28, DosePerFraction: 1.8}, nil},
	}

	for _, tc := range cases {
		var ext, prior float64
		if tc.ebrt != nil {
			ext, _ = radiobiology.BED(*tc.ebrt, tc.ab)
		}
		if tc.prior != nil {
			prior, _ = radiobiology.BEDFromEQD2(*tc.prior, tc.ab)
		}

		c := Constraint{Organ: "Organ", Metric: d2cc(), Quantity: tc.quantity, Limit: tc.limit}
		sol := Solve(c, tc.fractions, tc.ab, ext, prior)
		require.Equal(t, Solved, sol.Status, "%+v: %s", tc, sol.Reason)
		assert.Greater(t, sol.DosePerFraction, 0.0)

		acc, err := radiobiology.Accumulate(sol.DosePerFraction, tc.ab, radiobiology.Inputs{
			Fractions:    tc.fractions,
			ExternalBeam: tc.ebrt,
			PriorEQD2:    tc.prior,
		})
		require.NoError(t, err)

		got := acc.EQD2()
		if tc.quantity == BED {
			got = acc.Total()
		}
		assert.InDelta(t, tc.limit, got, 1e-6, "%+v", tc)
	}
}

func TestSolveUnsolvable(t *testing.T) {
	c := Constraint{Organ: "Rectum", Metric: d2cc(), Quantity: BED, Limit: 50}
	sol := Solve(c, 4, 3, 40, 10)
	assert.Equal(t, Unsolvable, sol.Status)
	assert.NotEmpty(t, sol.Reason)

	sol = Solve(c, 4, 3, 60, 0)
	assert.Equal(t, Unsolvable, sol.Status)
}

func TestSolveInvalidInputs(t *testing.T) {
	c := Constraint{Organ: "Rectum", Metric: d2cc(), Quantity: EQD2, Limit: 70}
	assert.Equal(t, NoSolution, Solve(c, 0, 3, 0, 0).Status)
	assert.Equal(t, NoSolution, Solve(c, 4, 0, 0, 0).Status)
	assert.Equal(t, NoSolution, Solve(c, 4, math.NaN(), 0, 0).Status)
}

func TestSolvePhysicalDose(t *testing.T) {
	c := Constraint{Organ: "Point A", Quantity: Dose, Limit: 7}
	sol := Solve(c, 4, 3, 100, 100)
	assert.Equal(t, Solved, sol.Status)
	assert.Equal(t, 7.0, sol.DosePerFraction)
}

func TestParse(t *testing.T) {
	d, err := ParseDirection("MIN")
	require.NoError(t, err)
	assert.Equal(t, Min, d)
	_, err = ParseDirection("above")
	assert.Error(t, err)

	q, err := ParseQuantity("bed")
	require.NoError(t, err)
	assert.Equal(t, BED, q)
	_, err = ParseQuantity("gray")
	assert.Error(t, err)

	assert.Equal(t, "NOT Met", NotMet.String())
	assert.Equal(t, "no-solution", NoSolution.String())
}
