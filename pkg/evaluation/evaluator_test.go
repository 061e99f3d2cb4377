package evaluation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brachyeval/internal/models"
	"brachyeval/pkg/config"
	"brachyeval/pkg/constraint"
	"brachyeval/pkg/radiobiology"
)

const (
	gridSize = 40
	spacing  = 2.5
)

// testGrid is a 40x40x10 axial grid with 2.5 mm voxels, 7 Gy everywhere and
// a single 20 Gy hot voxel at (12, 12, 4)
func testGrid() *models.DoseGrid {
	row, col := models.AxialOrientation()
	positions := make([]float64, 10)
	for k := range positions {
		positions[k] = float64(k) * spacing
	}
	g := &models.DoseGrid{
		Data:            make([]float64, gridSize*gridSize*len(positions)),
		Columns:         gridSize,
		Rows:            gridSize,
		Spacing:         models.PixelSpacing{X: spacing, Y: spacing},
		SlicePositions:  positions,
		RowDirection:    row,
		ColumnDirection: col,
		DoseScaling:     0.5,
	}
	for i := range g.Data {
		g.Data[i] = 14
	}
	g.Data[g.Index(12, 12, 4)] = 40
	return g
}

// square returns a structure whose contours cover voxels 10..19 in x and y
// on the given z planes, shifted by dx mm
func square(name string, dx float64, zs ...float64) models.Structure {
	s := models.Structure{Name: name}
	lo, hi := 9.5*spacing+dx, 19.5*spacing+dx
	for _, z := range zs {
		s.Contours = append(s.Contours, models.Contour{Points: []models.Point3D{
			{X: lo, Y: lo, Z: z}, {X: hi, Y: lo, Z: z}, {X: hi, Y: hi, Z: z}, {X: lo, Y: hi, Z: z},
		}})
	}
	return s
}

func testProtocol(t *testing.T) config.Protocol {
	p, err := config.DefaultConfig().Compile()
	require.NoError(t, err)
	return p
}

func ptr(v float64) *float64 { return &v }

func TestEvaluateReport(t *testing.T) {
	structures := []models.Structure{
		square("Bladder [cm3]", 0, 5, 7.5, 10, 12.5, 15),
		square("Rectum", 0, 100),
		square("Sigmoid", 500, 5, 7.5),
	}
	plan := &models.Plan{
		Label:     "Cx HDR 1",
		PatientID: "12345",
		Fractions: 4,
		DoseReferences: []models.DosePoint{
			{Name: "RV pt", Position: &models.Point3D{X: 35, Y: 35, Z: 10}},
			{Name: "Point A", PrescribedDose: ptr(7)},
			{Name: "Lost", Position: &models.Point3D{X: 0, Y: 0, Z: 500}},
		},
	}

	e := NewEvaluator(Params{Protocol: testProtocol(t), NumWorkers: 2, DVHBinWidth: 0.5})
	report, err := e.Evaluate(context.Background(), testGrid(), structures, plan)
	require.NoError(t, err)

	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err)
	assert.Equal(t, 4, report.Fractions)
	assert.Equal(t, "Cx HDR 1", report.Plan.Label)
	assert.Len(t, report.Warnings, 2, "missing external beam and prior course")
	require.Len(t, report.Structures, 6, "three delineated plus Bowel, CTV-HR and GTV")

	bladder, ok := report.Structure("Bladder")
	require.True(t, ok)
	assert.Equal(t, "Bladder [cm3]", bladder.Name)
	assert.Equal(t, 3.0, bladder.AlphaBeta)
	assert.Equal(t, 500, bladder.Voxels)
	assert.InDelta(t, 7.8125, bladder.SampledVolume, 1e-9)
	assert.InDelta(t, 6.25, bladder.Volume, 1e-9)
	assert.NotEmpty(t, bladder.DVH)
	require.NotNil(t, bladder.Mask)

	dmax, ok := bladder.Metric("Dmax")
	require.True(t, ok)
	assert.InDelta(t, 20, *dmax.PerFraction, 1e-12)

	d2cc, ok := bladder.Metric("D2cc")
	require.True(t, ok)
	require.NotNil(t, d2cc.PerFraction)
	assert.InDelta(t, 7, *d2cc.PerFraction, 1e-12)
	assert.InDelta(t, 28, *d2cc.Total, 1e-12)
	require.NotNil(t, d2cc.Biological)
	assert.InDelta(t, 93.3333333, d2cc.Biological.TotalBED, 1e-6)
	assert.InDelta(t, 56, d2cc.Biological.EQD2, 1e-9)

	require.Len(t, bladder.Constraints, 1)
	c := bladder.Constraints[0]
	assert.Equal(t, constraint.Met, c.Outcome.Status)
	require.NotNil(t, c.DoseToMeet)
	require.Equal(t, constraint.Solved, c.DoseToMeet.Status)
	bed, err := radiobiology.BED(radiobiology.Schedule{Fractions: 4, DosePerFraction: c.DoseToMeet.DosePerFraction}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 80*(1+2.0/3), bed, 1e-6)

	rectum, ok := report.Structure("Rectum")
	require.True(t, ok)
	assert.Nil(t, rectum.Mask)
	for _, m := range rectum.Metrics {
		assert.Nil(t, m.PerFraction, m.Name)
	}
	require.Len(t, rectum.Constraints, 1)
	assert.Equal(t, constraint.NotEvaluable, rectum.Constraints[0].Outcome.Status)
	assert.Nil(t, rectum.Constraints[0].DoseToMeet)

	sigmoid, ok := report.Structure("Sigmoid")
	require.True(t, ok)
	assert.Zero(t, sigmoid.Voxels)
	assert.Greater(t, sigmoid.Volume, 0.0, "geometric volume is reported without dose")
	assert.Equal(t, constraint.NotEvaluable, sigmoid.Constraints[0].Outcome.Status)

	kinds := map[string]FailureKind{}
	for _, f := range report.Failures {
		kinds[f.Organ] = f.Kind
	}
	assert.Equal(t, GeometryFailure, kinds["Rectum"])
	assert.Equal(t, EmptyMaskFailure, kinds["Sigmoid"])
	assert.Equal(t, PointFailure, kinds["Lost"])

	require.Len(t, report.Points, 3)
	rv := report.Points[0]
	assert.Equal(t, "RV Point", rv.Constraint)
	assert.Equal(t, "grid", rv.Source)
	assert.InDelta(t, 7, *rv.DosePerFraction, 1e-12)
	require.NotNil(t, rv.Outcome)
	assert.Equal(t, constraint.Met, rv.Outcome.Status)

	pointA := report.Points[1]
	assert.Equal(t, "plan", pointA.Source)
	assert.True(t, pointA.ReportOnly)
	assert.Nil(t, pointA.Outcome)
	require.NotNil(t, pointA.Biological)
	assert.InDelta(t, 56, pointA.Biological.EQD2, 1e-9)

	assert.Nil(t, report.Points[2].DosePerFraction)

	s := report.Summary()
	assert.Equal(t, Summary{Met: 2, NotEvaluable: 6}, s)
	assert.False(t, report.Passed())
}

func TestEvaluateReportsMissingOrgans(t *testing.T) {
	e := NewEvaluator(Params{Protocol: testProtocol(t), Fractions: 4})
	report, err := e.Evaluate(context.Background(), testGrid(),
		[]models.Structure{square("Bladder", 0, 5, 7.5, 10)}, nil)
	require.NoError(t, err)

	var organs []string
	for _, s := range report.Structures {
		organs = append(organs, s.Organ)
	}
	assert.Equal(t, []string{"Bladder", "Bowel", "CTV-HR", "GTV", "Rectum", "Sigmoid"}, organs)

	ctv, ok := report.Structure("CTV-HR")
	require.True(t, ok)
	assert.True(t, ctv.Missing)
	assert.Equal(t, 8.0, ctv.AlphaBeta)
	require.Len(t, ctv.Constraints, 2)
	for _, c := range ctv.Constraints {
		assert.Equal(t, constraint.NotEvaluable, c.Outcome.Status, c.Constraint)
		assert.Nil(t, c.DoseToMeet)
	}

	missing := map[string]bool{}
	for _, f := range report.Failures {
		if f.Kind == MissingStructureFailure {
			missing[f.Organ] = true
		}
	}
	assert.Equal(t, map[string]bool{"Bowel": true, "CTV-HR": true, "GTV": true, "Rectum": true, "Sigmoid": true}, missing)

	s := report.Summary()
	assert.Equal(t, 1, s.Met)
	assert.Equal(t, 6, s.NotEvaluable)
	assert.False(t, report.Passed())
}

func TestEvaluateWithExternalBeamAndPrior(t *testing.T) {
	p := testProtocol(t)
	prior := config.PriorCourse{"Bladder": {"D2cc": 10}}
	ebrt := &radiobiology.Schedule{Fractions: 25, DosePerFraction: 1.8}

	e := NewEvaluator(Params{Protocol: p, ExternalBeam: ebrt, Prior: prior, Fractions: 4})
	report, err := e.Evaluate(context.Background(), testGrid(),
		[]models.Structure{square("BLADDER", 0, 5, 7.5, 10)}, nil)
	require.NoError(t, err)

	bladder := report.Structures[0]
	d2cc, _ := bladder.Metric("D2cc")
	require.NotNil(t, d2cc.Biological)
	assert.InDelta(t, 72, d2cc.Biological.ExternalBeam, 1e-9)
	assert.InDelta(t, 10*(1+2.0/3), d2cc.Biological.PriorBrachytherapy, 1e-9)

	c := bladder.Constraints[0]
	assert.Equal(t, constraint.NotMet, c.Outcome.Status)
	require.Equal(t, constraint.Solved, c.DoseToMeet.Status)

	acc, err := radiobiology.Accumulate(c.DoseToMeet.DosePerFraction, 3, radiobiology.Inputs{
		Fractions:    4,
		ExternalBeam: ebrt,
		PriorEQD2:    ptr(10),
	})
	require.NoError(t, err)
	assert.InDelta(t, 80, acc.EQD2(), 1e-6)

	// prior course given but no D90 entry for the bladder
	assert.Contains(t, report.Warnings, "Bladder D90: no prior-brachytherapy contribution supplied, counted as zero")
}

func TestEvaluateOrderIndependentOfWorkers(t *testing.T) {
	structures := []models.Structure{
		square("Bladder", 0, 5, 7.5),
		square("Rectum", 2.5, 10, 12.5),
		square("Sigmoid", -2.5, 15, 17.5),
		square("Bowel", 5, 0, 2.5),
	}
	var names [][]string
	for _, workers := range []int{1, 8} {
		e := NewEvaluator(Params{Protocol: testProtocol(t), NumWorkers: workers, Fractions: 3})
		report, err := e.Evaluate(context.Background(), testGrid(), structures, nil)
		require.NoError(t, err)
		var n []string
		for _, s := range report.Structures {
			n = append(n, s.Name)
		}
		names = append(names, n)
	}
	assert.Equal(t, []string{"Bladder", "Rectum", "Sigmoid", "Bowel", "CTV-HR", "GTV"}, names[0])
	assert.Equal(t, names[0], names[1])
}

func TestEvaluateErrors(t *testing.T) {
	e := NewEvaluator(Params{Protocol: testProtocol(t)})
	structures := []models.Structure{square("Bladder", 0, 5)}

	_, err := e.Evaluate(context.Background(), testGrid(), structures, &models.Plan{})
	assert.Error(t, err, "no fraction count anywhere")

	bad := testGrid()
	bad.Data = bad.Data[:10]
	_, err = e.Evaluate(context.Background(), bad, structures, &models.Plan{Fractions: 4})
	assert.Error(t, err)

	_, err = e.Evaluate(context.Background(), nil, structures, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Evaluate(ctx, testGrid(), structures, &models.Plan{Fractions: 4})
	assert.ErrorIs(t, err, context.Canceled)

	grid := testGrid()
	grid.FractionCount = 5
	report, err := e.Evaluate(context.Background(), grid, structures, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Fractions, "grid fraction count is the fallback")
}
