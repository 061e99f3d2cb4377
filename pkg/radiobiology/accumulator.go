package radiobiology

import (
	"errors"
	"fmt"
)

// Source tags where a BED contribution comes from
type Source int

const (
	ThisPlan Source = iota
	ExternalBeam
	PriorBrachytherapy
)

var sourceNames = [...]string{"this-plan", "external-beam", "prior-brachytherapy"}

// Sources lists every contribution source in reporting order
var Sources = []Source{ThisPlan, ExternalBeam, PriorBrachytherapy}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// MarshalText lets sources key JSON objects
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrNoPlanContribution is returned when the mandatory this-plan contribution is absent
var ErrNoPlanContribution = errors.New("no this-plan brachytherapy contribution")

// MissingContributionWarning notes an optional source that was not supplied
// and therefore contributes zero BED. It is informational, not an error.
type MissingContributionWarning struct {
	Source Source
}

func (w MissingContributionWarning) String() string {
	return fmt.Sprintf("no %s contribution supplied, counted as zero", w.Source)
}

// Accumulator sums BED contributions for one organ and metric.
// Contributions commute: the order of Add calls does not change the total.
type Accumulator struct {
	alphaBeta     float64
	contributions map[Source]float64
}

// NewAccumulator creates an empty accumulator for an organ with the given alpha/beta ratio
func NewAccumulator(ab float64) (*Accumulator, error) {
	if err := checkAlphaBeta(ab); err != nil {
		return nil, err
	}
	return &Accumulator{alphaBeta: ab, contributions: make(map[Source]float64)}, nil
}

// AlphaBeta returns the organ alpha/beta ratio
func (a *Accumulator) AlphaBeta() float64 {
	return a.alphaBeta
}

// Add adds a BED contribution. Repeated contributions from one source are summed.
func (a *Accumulator) Add(source Source, bed float64) error {
	if bed < 0 {
		return fmt.Errorf("negative %s BED %g", source, bed)
	}
	a.contributions[source] += bed
	return nil
}

// AddSchedule adds the BED of a fractionated course
func (a *Accumulator) AddSchedule(source Source, s Schedule) error {
	bed, err := BED(s, a.alphaBeta)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	return a.Add(source, bed)
}

// AddEQD2 adds a contribution known as EQD2, converted back to BED with this
// organ's alpha/beta ratio
func (a *Accumulator) AddEQD2(source Source, eqd2 float64) error {
	bed, err := BEDFromEQD2(eqd2, a.alphaBeta)
	if err != nil {
		return err
	}
	return a.Add(source, bed)
}

// Contribution returns the BED from one source, zero if absent
func (a *Accumulator) Contribution(source Source) float64 {
	return a.contributions[source]
}

// Total returns the summed BED
func (a *Accumulator) Total() float64 {
	total := 0.0
	for _, s := range Sources {
		total += a.contributions[s]
	}
	return total
}

// EQD2 returns the total BED expressed in 2 Gy fractions
func (a *Accumulator) EQD2() float64 {
	return a.Total() / (1 + ReferenceDosePerFraction/a.alphaBeta)
}

// Validate checks that the mandatory this-plan contribution is present
func (a *Accumulator) Validate() error {
	if _, ok := a.contributions[ThisPlan]; !ok {
		return ErrNoPlanContribution
	}
	return nil
}

// Warnings lists the optional sources that were not supplied
func (a *Accumulator) Warnings() []MissingContributionWarning {
	var out []MissingContributionWarning
	for _, s := range []Source{ExternalBeam, PriorBrachytherapy} {
		if _, ok := a.contributions[s]; !ok {
			out = append(out, MissingContributionWarning{Source: s})
		}
	}
	return out
}

// Breakdown is the per-source view of an accumulator handed to reporting
type Breakdown struct {
	AlphaBeta          float64 `json:"alphaBeta"`
	ThisPlan           float64 `json:"bedThisPlan"`
	ExternalBeam       float64 `json:"bedExternalBeam"`
	PriorBrachytherapy float64 `json:"bedPriorBrachytherapy"`
	TotalBED           float64 `json:"bedTotal"`
	EQD2               float64 `json:"eqd2"`
}

// Breakdown returns the contributions and totals
func (a *Accumulator) Breakdown() Breakdown {
	return Breakdown{
		AlphaBeta:          a.alphaBeta,
		ThisPlan:           a.contributions[ThisPlan],
		ExternalBeam:       a.contributions[ExternalBeam],
		PriorBrachytherapy: a.contributions[PriorBrachytherapy],
		TotalBED:           a.Total(),
		EQD2:               a.EQD2(),
	}
}

// Inputs are the contributions held fixed around this plan's dose
type Inputs struct {
	// Fractions is the number of brachytherapy fractions in this plan
	Fractions int

	// ExternalBeam is the optional external-beam course
	ExternalBeam *Schedule

	// PriorEQD2 is the optional EQD2 already delivered by earlier brachytherapy
	PriorEQD2 *float64
}

// Accumulate builds the accumulator for one dose metric: this plan delivers
// dosePerFraction on every fraction, plus the optional external-beam and prior
// contributions. Missing optional sources are reported by Warnings.
func Accumulate(dosePerFraction, ab float64, in Inputs) (*Accumulator, error) {
	acc, err := NewAccumulator(ab)
	if err != nil {
		return nil, err
	}
	if err := acc.AddSchedule(ThisPlan, Schedule{Fractions: in.Fractions, DosePerFraction: dosePerFraction}); err != nil {
		return nil, err
	}
	if in.ExternalBeam != nil {
		if err := acc.AddSchedule(ExternalBeam, *in.ExternalBeam); err != nil {
			return nil, err
		}
	}
	if in.PriorEQD2 != nil {
		if err := acc.AddEQD2(PriorBrachytherapy, *in.PriorEQD2); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
