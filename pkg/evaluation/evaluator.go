// Package evaluation runs one plan evaluation: it maps every structure onto
// the dose grid, samples its dose, converts the metrics to BED/EQD2 and checks
// them against the protocol constraints.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"brachyeval/internal/models"
	"brachyeval/pkg/config"
	"brachyeval/pkg/constraint"
	"brachyeval/pkg/dvh"
	"brachyeval/pkg/geometry"
	"brachyeval/pkg/logging"
	"brachyeval/pkg/radiobiology"
	"brachyeval/pkg/raster"
)

// pointMetric is the metric name prior point doses are recorded under
const pointMetric = "Dmax"

// Params holds the evaluation inputs that do not come from the plan itself
type Params struct {
	// Protocol is the compiled protocol shared by every run
	Protocol config.Protocol

	// ExternalBeam is the optional external-beam course
	ExternalBeam *radiobiology.Schedule

	// Prior is the optional EQD2 already delivered by earlier brachytherapy
	Prior config.PriorCourse

	// Fractions overrides the plan fraction count when positive
	Fractions int

	// NumWorkers bounds how many structures are evaluated in parallel
	NumWorkers int

	// DVHBinWidth is the cumulative DVH bin width in Gy; 0 skips the curve
	DVHBinWidth float64

	Logger *logging.Logger
}

// Evaluator evaluates plans against one protocol. It holds no per-run state
// and may be used concurrently.
type Evaluator struct {
	params Params
	log    *logging.Logger
}

// NewEvaluator creates an evaluator with the provided parameters
func NewEvaluator(params Params) *Evaluator {
	if params.NumWorkers <= 0 {
		params.NumWorkers = runtime.NumCPU()
	}
	log := params.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Evaluator{params: params, log: log}
}

// run is the state of one evaluation
type run struct {
	*Evaluator
	grid      *models.DoseGrid
	transform *geometry.Transform
	fractions int
	log       *logging.Logger
}

// structureOutput is what one worker writes to its own slot
type structureOutput struct {
	result   StructureResult
	failures []Failure
	warnings []string
}

// Evaluate computes the report for one plan. Per-structure problems are
// recorded as failures in the report; an error is returned only when the run
// as a whole cannot proceed (invalid grid, no fraction count, cancelled context).
func (e *Evaluator) Evaluate(ctx context.Context, grid *models.DoseGrid, structures []models.Structure, plan *models.Plan) (*Report, error) {
	if grid == nil {
		return nil, fmt.Errorf("no dose grid")
	}
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dose grid: %w", err)
	}
	t, err := geometry.NewTransform(grid)
	if err != nil {
		return nil, fmt.Errorf("dose grid orientation: %w", err)
	}

	report := &Report{
		RunID:        uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Protocol:     e.params.Protocol.Name,
		ExternalBeam: e.params.ExternalBeam,
	}
	if plan != nil {
		report.Plan = PlanSummary{Label: plan.Label, PatientID: plan.PatientID, DosePerFraction: plan.DosePerFraction}
	}

	r := &run{
		Evaluator: e,
		grid:      grid,
		transform: t,
		fractions: e.fractionCount(grid, plan),
		log:       e.log.With("run", report.RunID),
	}
	if r.fractions <= 0 {
		return nil, fmt.Errorf("no fraction count in plan, dose grid or parameters")
	}
	report.Fractions = r.fractions

	if e.params.ExternalBeam == nil {
		report.Warnings = append(report.Warnings, radiobiology.MissingContributionWarning{Source: radiobiology.ExternalBeam}.String())
	}
	if e.params.Prior == nil {
		report.Warnings = append(report.Warnings, radiobiology.MissingContributionWarning{Source: radiobiology.PriorBrachytherapy}.String())
	}

	r.log.Info("evaluation started",
		"protocol", report.Protocol,
		"patient_id", report.Plan.PatientID,
		"structures", len(structures),
		"fractions", r.fractions,
		"grid", fmt.Sprintf("%dx%dx%d", grid.Columns, grid.Rows, grid.Depth()))

	outputs := make([]structureOutput, len(structures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.NumWorkers)
	for i := range structures {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i] = r.evaluateStructure(&structures[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(report.Warnings))
	for _, w := range report.Warnings {
		seen[w] = true
	}
	claimed := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		claimed[out.result.Organ] = true
		report.Structures = append(report.Structures, out.result)
		report.Failures = append(report.Failures, out.failures...)
		for _, w := range out.warnings {
			if !seen[w] {
				seen[w] = true
				report.Warnings = append(report.Warnings, w)
			}
		}
	}

	// constrained organs with no delineated structure are reported, never skipped
	for _, organ := range e.params.Protocol.Organs() {
		if claimed[organ] {
			continue
		}
		res, failure := r.missingStructure(organ)
		report.Structures = append(report.Structures, res)
		report.Failures = append(report.Failures, failure)
	}

	if plan != nil {
		for _, ref := range plan.DoseReferences {
			point, failure := r.evaluatePoint(ref)
			report.Points = append(report.Points, point)
			if failure != nil {
				report.Failures = append(report.Failures, *failure)
			}
		}
	}

	s := report.Summary()
	r.log.Info("evaluation finished",
		"met", s.Met, "warning", s.Warning, "not_met", s.NotMet, "not_evaluable", s.NotEvaluable,
		"failures", len(report.Failures))
	return report, nil
}

// fractionCount prefers the explicit override, then the plan, then the grid
func (e *Evaluator) fractionCount(grid *models.DoseGrid, plan *models.Plan) int {
	switch {
	case e.params.Fractions > 0:
		return e.params.Fractions
	case plan != nil && plan.Fractions > 0:
		return plan.Fractions
	}
	return grid.FractionCount
}

func (r *run) evaluateStructure(s *models.Structure) structureOutput {
	p := r.params.Protocol
	organ := p.Canonical(s.Name)
	log := r.log.With("structure", s.Name, "organ", organ)

	out := structureOutput{result: StructureResult{
		Name:      s.Name,
		Organ:     organ,
		Number:    s.Number,
		AlphaBeta: p.AlphaBeta(organ),
	}}
	res := &out.result
	res.Volume = dvh.StructureVolume(r.transform, s)

	fail := func(kind FailureKind, err error) {
		log.Warn("structure not evaluable", "kind", string(kind), "error", err)
		out.failures = append(out.failures, Failure{Kind: kind, Organ: s.Name, Reason: err.Error()})
	}

	sample, err := r.sample(s, res)
	if err != nil {
		var geomErr *geometry.GeometryError
		var emptyErr *dvh.EmptyMaskError
		switch {
		case errors.As(err, &geomErr):
			fail(GeometryFailure, err)
		case errors.As(err, &emptyErr):
			emptyErr.Structure = s.Name
			fail(EmptyMaskFailure, emptyErr)
		default:
			fail(DoseFailure, err)
		}
	}

	for _, m := range p.Metrics {
		mr, warnings, err := r.metric(organ, res.AlphaBeta, sample, m)
		if err != nil {
			fail(DoseFailure, fmt.Errorf("%s: %w", m.Name, err))
		}
		out.warnings = append(out.warnings, warnings...)
		res.Metrics = append(res.Metrics, mr)
	}

	if sample != nil && r.params.DVHBinWidth > 0 {
		if curve, err := sample.Cumulative(r.params.DVHBinWidth); err == nil {
			res.DVH = curve
		}
	}

	for _, c := range p.ConstraintsFor(organ) {
		res.Constraints = append(res.Constraints, r.check(c, res))
	}

	log.Debug("structure evaluated", "volume_cc", res.Volume, "voxels", res.Voxels)
	return out
}

// missingStructure builds the result for a constrained organ that has no
// structure in the structure set. Every constraint is not evaluable.
func (r *run) missingStructure(organ string) (StructureResult, Failure) {
	p := r.params.Protocol
	res := StructureResult{
		Name:      organ,
		Organ:     organ,
		Missing:   true,
		AlphaBeta: p.AlphaBeta(organ),
	}
	for _, m := range p.Metrics {
		res.Metrics = append(res.Metrics, MetricResult{Name: m.Name})
	}
	for _, c := range p.ConstraintsFor(organ) {
		res.Constraints = append(res.Constraints, r.check(c, &res))
	}
	r.log.Warn("structure not evaluable", "kind", string(MissingStructureFailure), "organ", organ)
	return res, Failure{Kind: MissingStructureFailure, Organ: organ, Reason: "no delineated structure in the structure set"}
}

// sample maps the contours, rasterises the mask and samples the dose under it
func (r *run) sample(s *models.Structure, res *StructureResult) (*dvh.DoseSample, error) {
	loops, err := r.transform.MapStructure(s)
	if err != nil {
		return nil, err
	}
	mask := raster.Rasterize(r.grid.Columns, r.grid.Rows, r.grid.Depth(), loops)
	res.Mask = mask
	res.Voxels = mask.Count()

	sample, err := dvh.Sample(r.grid, mask)
	if err != nil {
		return nil, err
	}
	res.SampledVolume = sample.Volume()
	return sample, nil
}

// metric extracts one metric and, for dose metrics, accumulates its BED/EQD2
func (r *run) metric(organ string, ab float64, sample *dvh.DoseSample, m dvh.Metric) (MetricResult, []string, error) {
	mr := MetricResult{Name: m.Name}
	if sample == nil {
		return mr, nil, nil
	}
	v := sample.Evaluate(m)
	perFraction := v.Value
	mr.PerFraction = &perFraction
	mr.ExceedsVolume = v.ExceedsVolume
	if !m.IsDose() {
		return mr, nil, nil
	}

	total := perFraction * float64(r.fractions)
	mr.Total = &total

	acc, err := radiobiology.Accumulate(perFraction, ab, radiobiology.Inputs{
		Fractions:    r.fractions,
		ExternalBeam: r.params.ExternalBeam,
		PriorEQD2:    r.params.Prior.EQD2(r.params.Protocol, organ, m.Name),
	})
	if err != nil {
		return mr, nil, err
	}
	b := acc.Breakdown()
	mr.Biological = &b

	var warnings []string
	if r.params.Prior != nil {
		for _, w := range acc.Warnings() {
			if w.Source == radiobiology.PriorBrachytherapy {
				warnings = append(warnings, fmt.Sprintf("%s %s: %s", organ, m.Name, w))
			}
		}
	}
	return mr, warnings, nil
}

// check evaluates one constraint and solves for the dose that meets it exactly
func (r *run) check(c constraint.Constraint, res *StructureResult) ConstraintResult {
	cr := ConstraintResult{
		Constraint: c.String(),
		Metric:     c.Metric.Name,
		Quantity:   c.Quantity,
		Direction:  c.Direction,
		Limit:      c.Limit,
		Warning:    c.Warning,
	}

	mr, ok := res.Metric(c.Metric.Name)
	var value *float64
	if ok && mr.PerFraction != nil {
		switch c.Quantity {
		case constraint.Dose:
			value = mr.PerFraction
		case constraint.BED:
			if mr.Biological != nil {
				v := mr.Biological.TotalBED
				value = &v
			}
		default:
			if mr.Biological != nil {
				v := mr.Biological.EQD2
				value = &v
			}
		}
	}
	cr.Outcome = constraint.Evaluate(c, value)

	if mr.Biological != nil {
		sol := constraint.Solve(c, r.fractions, res.AlphaBeta, mr.Biological.ExternalBeam, mr.Biological.PriorBrachytherapy)
		cr.DoseToMeet = &sol
	}
	return cr
}

// evaluatePoint reads the dose at a plan dose reference point. Points with a
// position use the nearest grid voxel; points without one fall back to the
// prescribed dose the plan carries.
func (r *run) evaluatePoint(ref models.DosePoint) (PointResult, *Failure) {
	p := r.params.Protocol
	pr := PointResult{Name: ref.Name, Position: ref.Position}
	pc, matched := p.MatchPoint(ref.Name)
	if matched {
		pr.Constraint = pc.Name
		pr.ReportOnly = pc.ReportOnly
	}

	if ref.Position != nil {
		if col, row, slice, ok := r.transform.Locate(*ref.Position, r.grid.Columns, r.grid.Rows); ok {
			d := r.grid.Dose(col, row, slice)
			pr.DosePerFraction = &d
			pr.Source = "grid"
		}
	}
	if pr.DosePerFraction == nil && ref.PrescribedDose != nil {
		d := *ref.PrescribedDose
		pr.DosePerFraction = &d
		pr.Source = "plan"
	}

	if pr.DosePerFraction == nil {
		if matched && !pc.ReportOnly && pc.MaxEQD2 != nil {
			out := constraint.Evaluate(pointConstraint(pc), nil)
			pr.Outcome = &out
		}
		return pr, &Failure{Kind: PointFailure, Organ: ref.Name, Reason: "point lies outside the dose grid and has no prescribed dose"}
	}

	key := ref.Name
	if matched {
		key = pc.Name
	}
	ab := p.AlphaBeta(key)
	acc, err := radiobiology.Accumulate(*pr.DosePerFraction, ab, radiobiology.Inputs{
		Fractions:    r.fractions,
		ExternalBeam: r.params.ExternalBeam,
		PriorEQD2:    r.params.Prior.EQD2(p, key, pointMetric),
	})
	if err != nil {
		return pr, &Failure{Kind: PointFailure, Organ: ref.Name, Reason: err.Error()}
	}
	b := acc.Breakdown()
	pr.Biological = &b

	if matched && !pc.ReportOnly && pc.MaxEQD2 != nil {
		eqd2 := b.EQD2
		out := constraint.Evaluate(pointConstraint(pc), &eqd2)
		pr.Outcome = &out
	}
	return pr, nil
}

func pointConstraint(pc config.PointConstraint) constraint.Constraint {
	return constraint.Constraint{
		Organ:     pc.Name,
		Metric:    dvh.Metric{Name: pointMetric, Kind: dvh.MaxDose},
		Quantity:  constraint.EQD2,
		Direction: constraint.Max,
		Limit:     *pc.MaxEQD2,
	}
}
