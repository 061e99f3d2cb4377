package evaluation

import (
	"fmt"
	"sort"
	"time"

	"brachyeval/internal/models"
	"brachyeval/pkg/constraint"
	"brachyeval/pkg/dvh"
	"brachyeval/pkg/radiobiology"
	"brachyeval/pkg/raster"
)

// FailureKind classifies why part of an evaluation could not be computed
type FailureKind string

const (
	// GeometryFailure means contours could not be placed on the dose grid
	GeometryFailure FailureKind = "geometry"
	// EmptyMaskFailure means the organ mask selected no dose voxels
	EmptyMaskFailure FailureKind = "empty-mask"
	// DoseFailure means a metric or biological conversion failed
	DoseFailure FailureKind = "dose"
	// PointFailure means a dose reference point could not be evaluated
	PointFailure FailureKind = "point"
	// MissingStructureFailure means a constrained organ has no structure
	MissingStructureFailure FailureKind = "missing-structure"
)

// Failure is one recorded problem. Evaluation continues past failures.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Organ  string      `json:"organ"`
	Reason string      `json:"reason"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s [%s]: %s", f.Organ, f.Kind, f.Reason)
}

// MetricResult is one dose-volume metric of one structure
type MetricResult struct {
	Name string `json:"name"`

	// PerFraction is this plan's value for one fraction, in Gy (cc for V metrics).
	// Nil when the structure has no dose sample.
	PerFraction *float64 `json:"perFraction"`

	// Total is PerFraction times the fraction count for dose metrics
	Total *float64 `json:"total,omitempty"`

	// ExceedsVolume is set when the requested volume is larger than the organ
	ExceedsVolume bool `json:"exceedsVolume,omitempty"`

	// Biological is the BED/EQD2 accumulation over all sources
	Biological *radiobiology.Breakdown `json:"biological,omitempty"`
}

// ConstraintResult pairs a protocol constraint with its outcome
type ConstraintResult struct {
	Constraint string               `json:"constraint"`
	Metric     string               `json:"metric"`
	Quantity   constraint.Quantity  `json:"quantity"`
	Direction  constraint.Direction `json:"direction"`
	Limit      float64              `json:"limit"`
	Warning    *float64             `json:"warning,omitempty"`
	Outcome    constraint.Outcome   `json:"outcome"`

	// DoseToMeet is the per-fraction dose at which the limit is met exactly
	DoseToMeet *constraint.Solution `json:"doseToMeet,omitempty"`
}

// StructureResult holds everything computed for one structure
type StructureResult struct {
	Name   string `json:"name"`
	Organ  string `json:"organ"`
	Number int    `json:"number"`

	// Missing is set for a constrained organ with no delineated structure
	Missing bool `json:"missing,omitempty"`

	AlphaBeta float64 `json:"alphaBeta"`

	// Volume is the contour volume in cc, independent of the dose grid
	Volume float64 `json:"volumeCc"`

	// Voxels is the number of dose voxels inside the organ mask
	Voxels int `json:"voxels"`

	// SampledVolume is the volume in cc covered by the mask voxels
	SampledVolume float64 `json:"sampledVolumeCc"`

	Metrics     []MetricResult     `json:"metrics"`
	DVH         []dvh.CurvePoint   `json:"dvh,omitempty"`
	Constraints []ConstraintResult `json:"constraints,omitempty"`

	// Mask is the organ mask on the dose grid, nil if it could not be built
	Mask *raster.Mask `json:"-"`
}

// Metric returns the named metric result
func (s *StructureResult) Metric(name string) (MetricResult, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricResult{}, false
}

// PointResult is the dose at one plan dose reference point
type PointResult struct {
	Name     string          `json:"name"`
	Position *models.Point3D `json:"position,omitempty"`

	// Constraint is the protocol point rule the point matched, if any
	Constraint string `json:"constraint,omitempty"`
	ReportOnly bool   `json:"reportOnly,omitempty"`

	// Source is "grid" for a dose read at the point position and "plan"
	// for the prescribed dose carried by the plan
	Source string `json:"source,omitempty"`

	DosePerFraction *float64                `json:"dosePerFraction"`
	Biological      *radiobiology.Breakdown `json:"biological,omitempty"`
	Outcome         *constraint.Outcome     `json:"outcome,omitempty"`
}

// PlanSummary identifies the evaluated plan
type PlanSummary struct {
	Label           string  `json:"label,omitempty"`
	PatientID       string  `json:"patientId,omitempty"`
	DosePerFraction float64 `json:"dosePerFraction,omitempty"`
}

// Report is the complete result of one evaluation run
type Report struct {
	RunID     string    `json:"runId"`
	CreatedAt time.Time `json:"createdAt"`
	Protocol  string    `json:"protocol"`

	Plan         PlanSummary            `json:"plan"`
	Fractions    int                    `json:"fractions"`
	ExternalBeam *radiobiology.Schedule `json:"externalBeam,omitempty"`

	Structures []StructureResult `json:"structures"`
	Points     []PointResult     `json:"points,omitempty"`

	Warnings []string  `json:"warnings,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Structure returns the result for a structure by delineated or organ name
func (r *Report) Structure(name string) (*StructureResult, bool) {
	for i := range r.Structures {
		if r.Structures[i].Name == name || r.Structures[i].Organ == name {
			return &r.Structures[i], true
		}
	}
	return nil, false
}

// SortedFailures returns the failures ordered by organ then kind
func (r *Report) SortedFailures() []Failure {
	out := append([]Failure(nil), r.Failures...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Organ != out[j].Organ {
			return out[i].Organ < out[j].Organ
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Summary counts constraint outcomes over structures and points
type Summary struct {
	Met          int `json:"met"`
	Warning      int `json:"warning"`
	NotMet       int `json:"notMet"`
	NotEvaluable int `json:"notEvaluable"`
}

func (s *Summary) add(st constraint.Status) {
	switch st {
	case constraint.Met:
		s.Met++
	case constraint.Warning:
		s.Warning++
	case constraint.NotMet:
		s.NotMet++
	default:
		s.NotEvaluable++
	}
}

// Summary tallies every constraint outcome in the report
func (r *Report) Summary() Summary {
	var s Summary
	for _, sr := range r.Structures {
		for _, c := range sr.Constraints {
			s.add(c.Outcome.Status)
		}
	}
	for _, p := range r.Points {
		if p.Outcome != nil {
			s.add(p.Outcome.Status)
		}
	}
	return s
}

// Passed reports whether every constraint was met or only warned, and all were evaluable
func (r *Report) Passed() bool {
	s := r.Summary()
	return s.NotMet == 0 && s.NotEvaluable == 0
}
