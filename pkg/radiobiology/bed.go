// Package radiobiology implements the linear-quadratic fractionation model:
// biologically effective dose (BED), its 2 Gy equivalent (EQD2) and the
// accumulation of contributions from several treatment courses.
package radiobiology

import "fmt"

// ReferenceDosePerFraction is the fraction size EQD2 is normalised to, in Gy
const ReferenceDosePerFraction = 2.0

// Schedule is a fractionated course: n fractions of d Gy each
type Schedule struct {
	Fractions       int     `yaml:"fractions" json:"fractions"`
	DosePerFraction float64 `yaml:"dosePerFraction" json:"dosePerFraction"`
}

// TotalDose returns n·d
func (s Schedule) TotalDose() float64 {
	return float64(s.Fractions) * s.DosePerFraction
}

// Validate rejects negative fraction counts and doses
func (s Schedule) Validate() error {
	if s.Fractions < 0 {
		return fmt.Errorf("negative fraction count %d", s.Fractions)
	}
	if s.DosePerFraction < 0 {
		return fmt.Errorf("negative dose per fraction %g", s.DosePerFraction)
	}
	return nil
}

func checkAlphaBeta(ab float64) error {
	if ab <= 0 {
		return fmt.Errorf("alpha/beta ratio must be positive, got %g", ab)
	}
	return nil
}

// BED returns n·d·(1 + d/ab)
func BED(s Schedule, ab float64) (float64, error) {
	if err := checkAlphaBeta(ab); err != nil {
		return 0, err
	}
	if err := s.Validate(); err != nil {
		return 0, err
	}
	return s.TotalDose() * (1 + s.DosePerFraction/ab), nil
}

// EQD2FromBED returns bed / (1 + 2/ab)
func EQD2FromBED(bed, ab float64) (float64, error) {
	if err := checkAlphaBeta(ab); err != nil {
		return 0, err
	}
	return bed / (1 + ReferenceDosePerFraction/ab), nil
}

// BEDFromEQD2 returns eqd2·(1 + 2/ab)
func BEDFromEQD2(eqd2, ab float64) (float64, error) {
	if err := checkAlphaBeta(ab); err != nil {
		return 0, err
	}
	return eqd2 * (1 + ReferenceDosePerFraction/ab), nil
}
