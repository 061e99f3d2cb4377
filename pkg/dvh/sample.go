package dvh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"brachyeval/internal/models"
	"brachyeval/pkg/raster"
)

// EmptyMaskError reports an organ mask that selects no dose grid voxels,
// for example a structure lying entirely outside the dose grid footprint.
// Dose metrics are undefined in that case, not zero.
type EmptyMaskError struct {
	Structure string
}

func (e *EmptyMaskError) Error() string {
	if e.Structure == "" {
		return "organ mask does not intersect the dose grid"
	}
	return fmt.Sprintf("organ mask of %q does not intersect the dose grid", e.Structure)
}

// VoxelVolume returns the volume of one dose grid voxel in mm³:
// pixel area times the mean gap between adjacent slices.
func VoxelVolume(grid *models.DoseGrid) (float64, error) {
	area := grid.Spacing.X * grid.Spacing.Y
	if len(grid.SlicePositions) < 2 {
		if grid.SliceThickness <= 0 {
			return 0, fmt.Errorf("single slice grid without slice thickness")
		}
		return area * grid.SliceThickness, nil
	}
	gaps := make([]float64, len(grid.SlicePositions)-1)
	for k := range gaps {
		gaps[k] = math.Abs(grid.SlicePositions[k+1] - grid.SlicePositions[k])
	}
	return area * stat.Mean(gaps, nil), nil
}

// Result is the outcome of one dose metric lookup
type Result struct {
	// Value is in Gy for dose metrics and cc for volume metrics
	Value float64

	// ExceedsVolume is set when the requested volume is larger than the
	// sampled organ, in which case Value is the organ minimum dose
	ExceedsVolume bool
}

// volumeTolerance is the relative slack allowed when comparing a requested
// volume with the organ volume, so that the organ volume itself is not flagged.
const volumeTolerance = 1e-9

// DoseSample holds the physical doses of the voxels inside an organ mask,
// sorted from highest to lowest.
type DoseSample struct {
	doses       []float64
	voxelVolume float64 // cc
}

// NewDoseSample builds a sample from per-voxel doses in Gy and the volume of
// one voxel in cc. The input slice is not modified.
func NewDoseSample(doses []float64, voxelVolume float64) *DoseSample {
	sorted := make([]float64, len(doses))
	copy(sorted, doses)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return &DoseSample{doses: sorted, voxelVolume: voxelVolume}
}

// Sample selects the voxels of grid inside mask and converts them to Gy
func Sample(grid *models.DoseGrid, mask *raster.Mask) (*DoseSample, error) {
	if mask.Width != grid.Columns || mask.Height != grid.Rows || mask.Depth != grid.Depth() {
		return nil, fmt.Errorf("mask shape %dx%dx%d does not match grid %dx%dx%d",
			mask.Width, mask.Height, mask.Depth, grid.Columns, grid.Rows, grid.Depth())
	}
	vv, err := VoxelVolume(grid)
	if err != nil {
		return nil, err
	}

	doses := make([]float64, 0, mask.Count())
	for i, inside := range mask.Data {
		if inside {
			doses = append(doses, grid.Data[i]*grid.DoseScaling)
		}
	}
	if len(doses) == 0 {
		return nil, &EmptyMaskError{}
	}
	return NewDoseSample(doses, CubicCentimetres(vv)), nil
}

// Count returns the number of sampled voxels
func (s *DoseSample) Count() int {
	return len(s.doses)
}

// Volume returns the sampled organ volume in cc
func (s *DoseSample) Volume() float64 {
	return float64(len(s.doses)) * s.voxelVolume
}

// Max returns the highest voxel dose
func (s *DoseSample) Max() float64 {
	return s.doses[0]
}

// Min returns the lowest voxel dose
func (s *DoseSample) Min() float64 {
	return s.doses[len(s.doses)-1]
}

// Mean returns the mean voxel dose
func (s *DoseSample) Mean() float64 {
	return stat.Mean(s.doses, nil)
}

// atRank returns the dose of the n-th hottest voxel (1-based), so that n
// voxels receive at least the returned dose
func (s *DoseSample) atRank(n int) float64 {
	if n < 1 {
		n = 1
	}
	return s.doses[n-1]
}

// DoseToVolume returns the minimum dose received by the hottest cc of the organ (D_cc)
func (s *DoseSample) DoseToVolume(cc float64) Result {
	n := int(math.Round(cc / s.voxelVolume))
	if n > len(s.doses) {
		n = len(s.doses)
	}
	return Result{Value: s.atRank(n), ExceedsVolume: cc > s.Volume()*(1+volumeTolerance)}
}

// DoseToPercent returns the minimum dose received by the hottest pct percent
// of the organ volume (e.g. D90)
func (s *DoseSample) DoseToPercent(pct float64) Result {
	if pct > 100 {
		return Result{Value: s.Min(), ExceedsVolume: true}
	}
	n := int(math.Round(pct / 100 * float64(len(s.doses))))
	return Result{Value: s.atRank(n)}
}

// VolumeAtDose returns the volume in cc receiving at least gy (V_Gy)
func (s *DoseSample) VolumeAtDose(gy float64) float64 {
	// doses are descending; count the prefix >= gy
	n := sort.Search(len(s.doses), func(i int) bool { return s.doses[i] < gy })
	return float64(n) * s.voxelVolume
}

// CurvePoint is one point of a cumulative DVH
type CurvePoint struct {
	Dose   float64 `json:"dose"`
	Volume float64 `json:"volume"`
}

// Cumulative returns the cumulative DVH sampled at multiples of binWidth:
// the volume in cc receiving at least each dose level.
func (s *DoseSample) Cumulative(binWidth float64) ([]CurvePoint, error) {
	if binWidth <= 0 {
		return nil, fmt.Errorf("invalid bin width %g", binWidth)
	}
	ascending := make([]float64, len(s.doses))
	copy(ascending, s.doses)
	floats.Reverse(ascending)

	start := math.Floor(ascending[0]/binWidth) * binWidth
	if start > 0 {
		start = 0
	}
	bins := int(math.Floor((s.Max()-start)/binWidth)) + 1
	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = start + float64(i)*binWidth
	}
	counts := stat.Histogram(nil, dividers, ascending, nil)

	curve := make([]CurvePoint, bins)
	running := 0.0
	for i := bins - 1; i >= 0; i-- {
		running += counts[i]
		curve[i] = CurvePoint{Dose: dividers[i], Volume: running * s.voxelVolume}
	}
	return curve, nil
}
