package models

import (
	"fmt"
	"math"
)

// Point3D is a position or direction in the patient coordinate system, in mm
type Point3D struct {
	X, Y, Z float64
}

// Sub returns p - q
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Dot returns the scalar product of p and q
func (p Point3D) Dot(q Point3D) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// Cross returns the vector product p × q
func (p Point3D) Cross(q Point3D) Point3D {
	return Point3D{
		X: p.Y*q.Z - p.Z*q.Y,
		Y: p.Z*q.X - p.X*q.Z,
		Z: p.X*q.Y - p.Y*q.X,
	}
}

// Norm returns the euclidean length of p
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// PixelSpacing is the in-plane voxel size in mm.
// X is the distance between adjacent columns, Y between adjacent rows.
type PixelSpacing struct {
	X, Y float64
}

// DoseGrid represents a 3D RT dose distribution for a single fraction
type DoseGrid struct {
	// Data holds raw stored values as a 1D array in row-major order:
	// index = slice*Rows*Columns + row*Columns + column
	Data []float64

	// Columns and Rows are the in-plane dimensions in voxels
	Columns int
	Rows    int

	// Origin is the patient position of the centre of voxel [0,0,0]
	Origin Point3D

	// Spacing is the in-plane voxel size
	Spacing PixelSpacing

	// SliceThickness is the nominal slab thickness in mm. It is only used
	// when the grid has a single slice and no gap can be derived.
	SliceThickness float64

	// SlicePositions are the offsets of every slice along the slice normal,
	// relative to Origin (GridFrameOffsetVector). Not necessarily uniform.
	SlicePositions []float64

	// RowDirection is the direction of increasing column index and
	// ColumnDirection the direction of increasing row index
	RowDirection    Point3D
	ColumnDirection Point3D

	// DoseScaling converts raw stored values to Gy
	DoseScaling float64

	// FractionCount is the number of fractions the grid was planned for
	FractionCount int
}

// AxialOrientation returns the direction cosines of an unrotated axial acquisition
func AxialOrientation() (row, col Point3D) {
	return Point3D{X: 1}, Point3D{Y: 1}
}

// Depth returns the number of slices
func (g *DoseGrid) Depth() int {
	return len(g.SlicePositions)
}

// Index returns the position of voxel (column, row, slice) in Data
func (g *DoseGrid) Index(column, row, slice int) int {
	return slice*g.Rows*g.Columns + row*g.Columns + column
}

// Contains reports whether (column, row, slice) lies inside the grid
func (g *DoseGrid) Contains(column, row, slice int) bool {
	return column >= 0 && column < g.Columns &&
		row >= 0 && row < g.Rows &&
		slice >= 0 && slice < g.Depth()
}

// Dose returns the physical dose in Gy of one voxel
func (g *DoseGrid) Dose(column, row, slice int) float64 {
	return g.Data[g.Index(column, row, slice)] * g.DoseScaling
}

// SliceNormal returns row × column, the direction along which SlicePositions are measured
func (g *DoseGrid) SliceNormal() Point3D {
	return g.RowDirection.Cross(g.ColumnDirection)
}

// Validate checks the structural invariants of the grid
func (g *DoseGrid) Validate() error {
	if g.Columns <= 0 || g.Rows <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", g.Columns, g.Rows)
	}
	if len(g.SlicePositions) == 0 {
		return fmt.Errorf("grid has no slices")
	}
	if want := g.Columns * g.Rows * len(g.SlicePositions); len(g.Data) != want {
		return fmt.Errorf("grid data has %d values, expected %d (%dx%dx%d)",
			len(g.Data), want, g.Columns, g.Rows, len(g.SlicePositions))
	}
	if g.Spacing.X <= 0 || g.Spacing.Y <= 0 {
		return fmt.Errorf("invalid pixel spacing %.4fx%.4f", g.Spacing.X, g.Spacing.Y)
	}
	if g.DoseScaling <= 0 {
		return fmt.Errorf("invalid dose scaling %g", g.DoseScaling)
	}
	if len(g.SlicePositions) > 1 {
		increasing := g.SlicePositions[1] > g.SlicePositions[0]
		for k := 1; k < len(g.SlicePositions); k++ {
			gap := g.SlicePositions[k] - g.SlicePositions[k-1]
			if gap == 0 || (gap > 0) != increasing {
				return fmt.Errorf("slice positions are not strictly monotonic at slice %d", k)
			}
		}
	}
	return nil
}
