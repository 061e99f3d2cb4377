package radiobiology

import (
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// TestBEDScenario checks 4 x 7 Gy to an alpha/beta 3 tissue
func TestBEDScenario(t *testing.T) {
	bed, err := BED(Schedule{Fractions: 4, DosePerFraction: 7}, 3)
	if err != nil {
		t.Fatalf("BED failed: %v", err)
	}
	if !almostEqual(bed, 93.3333333333, 1e-6) {
		t.Errorf("Expected BED 93.33, got %.6f", bed)
	}

	eqd2, err := EQD2FromBED(bed, 3)
	if err != nil {
		t.Fatalf("EQD2FromBED failed: %v", err)
	}
	if !almostEqual(eqd2, 56.0, 1e-9) {
		t.Errorf("Expected EQD2 56.0, got %.6f", eqd2)
	}
}

// TestRoundTrip verifies BED -> EQD2 -> BED is the identity for positive ratios
func TestRoundTrip(t *testing.T) {
	for _, ab := range []float64{0.5, 1, 2, 3, 8, 10, 25} {
		for _, bed := range []float64{0, 1.5, 60, 133.33, 400} {
			eqd2, err := EQD2FromBED(bed, ab)
			if err != nil {
				t.Fatalf("EQD2FromBED(%g, %g): %v", bed, ab, err)
			}
			back, err := BEDFromEQD2(eqd2, ab)
			if err != nil {
				t.Fatalf("BEDFromEQD2(%g, %g): %v", eqd2, ab, err)
			}
			if !almostEqual(back, bed, tolerance*math.Max(1, bed)) {
				t.Errorf("ab=%g: expected %g after round trip, got %g", ab, bed, back)
			}
		}
	}
}

// TestInvalidInputs verifies non-physical inputs are rejected
func TestInvalidInputs(t *testing.T) {
	if _, err := BED(Schedule{Fractions: 1, DosePerFraction: 1}, 0); err == nil {
		t.Errorf("Expected error for zero alpha/beta")
	}
	if _, err := BED(Schedule{Fractions: -1, DosePerFraction: 1}, 3); err == nil {
		t.Errorf("Expected error for negative fractions")
	}
	if _, err := BED(Schedule{Fractions: 1, DosePerFraction: -2}, 3); err == nil {
		t.Errorf("Expected error for negative dose")
	}
	if _, err := NewAccumulator(-3); err == nil {
		t.Errorf("Expected error for negative alpha/beta")
	}
	acc, _ := NewAccumulator(3)
	if err := acc.Add(ExternalBeam, -1); err == nil {
		t.Errorf("Expected error for negative BED")
	}
}

// TestAccumulationCommutes verifies every ordering of the three sources gives the same total
func TestAccumulationCommutes(t *testing.T) {
	type contribution struct {
		source Source
		add    func(a *Accumulator) error
	}
	contributions := []contribution{
		{ThisPlan, func(a *Accumulator) error {
			return a.AddSchedule(ThisPlan, Schedule{Fractions: 3, DosePerFraction: 6.5})
		}},
		{ExternalBeam, func(a *Accumulator) error {
			return a.AddSchedule(ExternalBeam, Schedule{Fractions: 25, DosePerFraction: 1.8})
		}},
		{PriorBrachytherapy, func(a *Accumulator) error {
			return a.AddEQD2(PriorBrachytherapy, 12.4)
		}},
	}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var reference *Breakdown
	for _, order := range orders {
		acc, err := NewAccumulator(3)
		if err != nil {
			t.Fatal(err)
		}
		for _, i := range order {
			if err := contributions[i].add(acc); err != nil {
				t.Fatalf("add %s: %v", contributions[i].source, err)
			}
		}
		b := acc.Breakdown()
		if reference == nil {
			reference = &b
			continue
		}
		if b != *reference {
			t.Errorf("Order %v: expected %+v, got %+v", order, *reference, b)
		}
	}

	// 3 x 6.5 (1 + 6.5/3) + 45 (1 + 1.8/3) + 12.4 (1 + 2/3)
	expected := 19.5*(1+6.5/3) + 45*1.6 + 12.4*(5.0/3)
	if !almostEqual(reference.TotalBED, expected, 1e-9) {
		t.Errorf("Expected total BED %.6f, got %.6f", expected, reference.TotalBED)
	}
}

// TestAccumulateWarnings verifies missing optional sources are zero with a warning
func TestAccumulateWarnings(t *testing.T) {
	acc, err := Accumulate(7, 3, Inputs{Fractions: 4})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if err := acc.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if acc.Contribution(ExternalBeam) != 0 || acc.Contribution(PriorBrachytherapy) != 0 {
		t.Errorf("Missing sources should contribute zero")
	}
	warnings := acc.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Expected 2 warnings, got %d", len(warnings))
	}
	if warnings[0].Source != ExternalBeam || warnings[1].Source != PriorBrachytherapy {
		t.Errorf("Unexpected warnings %v", warnings)
	}
	if !almostEqual(acc.EQD2(), 56, 1e-9) {
		t.Errorf("Expected EQD2 56, got %f", acc.EQD2())
	}

	prior := 10.0
	acc, err = Accumulate(7, 3, Inputs{
		Fractions:    4,
		ExternalBeam: &Schedule{Fractions: 25, DosePerFraction: 1.8},
		PriorEQD2:    &prior,
	})
	if err != nil {
		t.Fatalf("Accumulate failed: %v", err)
	}
	if len(acc.Warnings()) != 0 {
		t.Errorf("Expected no warnings, got %v", acc.Warnings())
	}
	if !almostEqual(acc.Contribution(PriorBrachytherapy), 10*(1+2.0/3), 1e-9) {
		t.Errorf("Prior EQD2 should be converted with the organ alpha/beta, got %f",
			acc.Contribution(PriorBrachytherapy))
	}
}

// TestValidateRequiresPlan verifies the this-plan contribution is mandatory
func TestValidateRequiresPlan(t *testing.T) {
	acc, _ := NewAccumulator(3)
	_ = acc.Add(ExternalBeam, 20)
	if err := acc.Validate(); !errors.Is(err, ErrNoPlanContribution) {
		t.Errorf("Expected ErrNoPlanContribution, got %v", err)
	}
}

// TestSourceString verifies source names used in reports
func TestSourceString(t *testing.T) {
	if ThisPlan.String() != "this-plan" || PriorBrachytherapy.String() != "prior-brachytherapy" {
		t.Errorf("Unexpected source names")
	}
	text, _ := ExternalBeam.MarshalText()
	if string(text) != "external-beam" {
		t.Errorf("Expected external-beam, got %s", text)
	}
}
