// Package geometry maps patient-space contour points onto the voxel index
// space of a dose grid.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"brachyeval/internal/models"
)

// singleSliceTolerance is the matching tolerance in mm used when a grid has a
// single slice and no nominal thickness.
const singleSliceTolerance = 1e-3

// GeometryError reports a contour or grid that cannot be mapped onto the dose grid
type GeometryError struct {
	Offset float64
	Reason string
}

func (e *GeometryError) Error() string {
	if math.IsNaN(e.Offset) {
		return "geometry: " + e.Reason
	}
	return fmt.Sprintf("geometry: %s (slice offset %.3f mm)", e.Reason, e.Offset)
}

func degenerate(reason string) *GeometryError {
	return &GeometryError{Offset: math.NaN(), Reason: reason}
}

// VoxelPoint is a continuous position in voxel index space.
// I runs along columns and J along rows; integer values are voxel centres.
type VoxelPoint struct {
	I, J float64
}

// VoxelLoop is one contour loop assigned to a dose grid slice
type VoxelLoop struct {
	Slice  int
	Points []VoxelPoint
}

// Transform inverts the dose grid affine map P = O + i·sx·row + j·sy·col
// and assigns slice offsets to their nearest grid slice.
type Transform struct {
	origin models.Point3D

	// unit in-plane axes and slice normal
	row, col, normal models.Point3D

	// pinv is the pseudo-inverse of the 3x2 matrix [sx·row | sy·col]
	pinv [2][3]float64

	positions []float64
	thickness float64
}

// NewTransform prepares the inverse affine map for a dose grid.
// The full direction-cosine submatrix is used so rotated acquisitions map correctly.
func NewTransform(grid *models.DoseGrid) (*Transform, error) {
	if len(grid.SlicePositions) == 0 {
		return nil, degenerate("dose grid has no slices")
	}
	sx, sy := grid.Spacing.X, grid.Spacing.Y
	if sx <= 0 || sy <= 0 {
		return nil, degenerate(fmt.Sprintf("invalid pixel spacing %gx%g", sx, sy))
	}

	r, c := grid.RowDirection, grid.ColumnDirection
	a := mat.NewDense(3, 2, []float64{
		sx * r.X, sy * c.X,
		sx * r.Y, sy * c.Y,
		sx * r.Z, sy * c.Z,
	})

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		return nil, degenerate(fmt.Sprintf("degenerate orientation cosines: %v", err))
	}
	var pinv mat.Dense
	pinv.Mul(&inv, a.T())

	normal := r.Cross(c)
	n := normal.Norm()
	if n == 0 {
		return nil, degenerate("row and column directions are parallel")
	}

	t := &Transform{
		origin:    grid.Origin,
		row:       scale(r, 1/r.Norm()),
		col:       scale(c, 1/c.Norm()),
		normal:    scale(normal, 1/n),
		positions: grid.SlicePositions,
		thickness: grid.SliceThickness,
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			t.pinv[i][j] = pinv.At(i, j)
		}
	}
	return t, nil
}

func scale(p models.Point3D, f float64) models.Point3D {
	return models.Point3D{X: p.X * f, Y: p.Y * f, Z: p.Z * f}
}

// ToVoxel returns the continuous (column, row) coordinates of a patient point
func (t *Transform) ToVoxel(p models.Point3D) VoxelPoint {
	d := p.Sub(t.origin)
	return VoxelPoint{
		I: t.pinv[0][0]*d.X + t.pinv[0][1]*d.Y + t.pinv[0][2]*d.Z,
		J: t.pinv[1][0]*d.X + t.pinv[1][1]*d.Y + t.pinv[1][2]*d.Z,
	}
}

// SliceOffset returns the distance of p from the origin along the slice normal.
// For axial grids this is z - origin.z.
func (t *Transform) SliceOffset(p models.Point3D) float64 {
	return p.Sub(t.origin).Dot(t.normal)
}

// InPlane returns the in-plane millimetre coordinates of p along the row and
// column directions. Areas computed from them are true physical areas.
func (t *Transform) InPlane(p models.Point3D) (u, v float64) {
	d := p.Sub(t.origin)
	return d.Dot(t.row), d.Dot(t.col)
}

// NearestSlice returns the index of the slice closest to offset.
// Ties go to the smallest index. Offsets beyond the stack by more than one
// slice thickness are rejected.
func (t *Transform) NearestSlice(offset float64) (int, error) {
	best := 0
	bestDist := math.Abs(t.positions[0] - offset)
	lo, hi := 0, 0
	for k := 1; k < len(t.positions); k++ {
		if dist := math.Abs(t.positions[k] - offset); dist < bestDist {
			best, bestDist = k, dist
		}
		if t.positions[k] < t.positions[lo] {
			lo = k
		}
		if t.positions[k] > t.positions[hi] {
			hi = k
		}
	}

	switch {
	case offset < t.positions[lo]:
		if t.positions[lo]-offset > t.endThickness(lo) {
			return 0, &GeometryError{Offset: offset, Reason: "contour lies below the dose grid"}
		}
	case offset > t.positions[hi]:
		if offset-t.positions[hi] > t.endThickness(hi) {
			return 0, &GeometryError{Offset: offset, Reason: "contour lies above the dose grid"}
		}
	}
	return best, nil
}

// endThickness returns the gap between an end slice and its only neighbour
func (t *Transform) endThickness(k int) float64 {
	if len(t.positions) == 1 {
		if t.thickness > 0 {
			return t.thickness
		}
		return singleSliceTolerance
	}
	neighbour := k + 1
	if k == len(t.positions)-1 {
		neighbour = k - 1
	}
	return math.Abs(t.positions[k] - t.positions[neighbour])
}

// MapContour maps a planar contour into voxel space and assigns it to a slice
func (t *Transform) MapContour(c models.Contour) (VoxelLoop, error) {
	if len(c.Points) == 0 {
		return VoxelLoop{}, degenerate("empty contour")
	}
	slice, err := t.NearestSlice(t.SliceOffset(c.Points[0]))
	if err != nil {
		return VoxelLoop{}, err
	}
	loop := VoxelLoop{Slice: slice, Points: make([]VoxelPoint, len(c.Points))}
	for k, p := range c.Points {
		loop.Points[k] = t.ToVoxel(p)
	}
	return loop, nil
}

// MapStructure maps every contour of a structure. The first failure aborts the
// structure since its mask would be incomplete.
func (t *Transform) MapStructure(s *models.Structure) ([]VoxelLoop, error) {
	loops := make([]VoxelLoop, 0, len(s.Contours))
	for i, c := range s.Contours {
		loop, err := t.MapContour(c)
		if err != nil {
			return nil, fmt.Errorf("contour %d of %q: %w", i, s.Name, err)
		}
		loops = append(loops, loop)
	}
	return loops, nil
}

// Locate returns the voxel nearest to a patient point, or false if the point
// lies outside the grid. Past the first and last slice a point must be within
// half a slice gap of the end slice.
func (t *Transform) Locate(p models.Point3D, columns, rows int) (column, row, slice int, ok bool) {
	v := t.ToVoxel(p)
	column = int(math.Round(v.I))
	row = int(math.Round(v.J))
	if column < 0 || column >= columns || row < 0 || row >= rows {
		return 0, 0, 0, false
	}
	offset := t.SliceOffset(p)
	slice, err := t.NearestSlice(offset)
	if err != nil {
		return 0, 0, 0, false
	}
	end := t.positions[slice] == floats.Min(t.positions) || t.positions[slice] == floats.Max(t.positions)
	if end && math.Abs(offset-t.positions[slice]) > t.endThickness(slice)/2 {
		return 0, 0, 0, false
	}
	return column, row, slice, true
}
