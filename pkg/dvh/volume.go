// Package dvh computes organ volumes and dose-volume metrics.
//
// Volumes are computed geometrically from the contour polygons so they do not
// depend on how the contours fall onto the dose grid. Dose metrics are exact
// order statistics over the voxels selected by the organ mask; no histogram
// binning is involved.
package dvh

import (
	"math"
	"sort"

	"brachyeval/internal/models"
	"brachyeval/pkg/geometry"
)

// planeKeyPrecision groups contours whose plane offsets agree to 1e-4 mm
const planeKeyPrecision = 1e4

// Point2D is an in-plane position in mm
type Point2D struct {
	X, Y float64
}

// Plane is the set of contour loops lying at one offset along the slice normal
type Plane struct {
	Offset float64
	Loops  [][]Point2D
}

// PolygonArea returns the signed shoelace area of a closed polygon.
// Counter-clockwise loops are positive.
func PolygonArea(points []Point2D) float64 {
	if len(points) < 3 {
		return 0
	}
	sum := 0.0
	prev := points[len(points)-1]
	for _, p := range points {
		sum += prev.X*p.Y - p.X*prev.Y
		prev = p
	}
	return sum / 2
}

// PlaneArea sums the absolute areas of every loop on a plane
func PlaneArea(loops [][]Point2D) float64 {
	total := 0.0
	for _, l := range loops {
		total += math.Abs(PolygonArea(l))
	}
	return total
}

// SlabVolume integrates plane areas along the normal and returns mm³.
//
// Each plane contributes area × slab thickness. An interior plane's slab is
// the mean of the gaps to its two neighbours; the first and last planes take
// half of their single adjacent gap. This is trapezoidal integration, so N
// identical planes at spacing g give area × (N-1) × g. Spacing may vary.
func SlabVolume(planes []Plane) float64 {
	if len(planes) < 2 {
		return 0
	}
	sorted := make([]Plane, len(planes))
	copy(sorted, planes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	volume := 0.0
	last := len(sorted) - 1
	for k, p := range sorted {
		var slab float64
		switch k {
		case 0:
			slab = (sorted[1].Offset - sorted[0].Offset) / 2
		case last:
			slab = (sorted[last].Offset - sorted[last-1].Offset) / 2
		default:
			slab = (sorted[k+1].Offset - sorted[k-1].Offset) / 2
		}
		volume += PlaneArea(p.Loops) * slab
	}
	return volume
}

// CubicCentimetres converts mm³ to cc
func CubicCentimetres(mm3 float64) float64 {
	return mm3 / 1000
}

// Planes groups the contours of a structure by plane and projects their
// points into in-plane millimetre coordinates.
func Planes(t *geometry.Transform, s *models.Structure) []Plane {
	byKey := make(map[int64]*Plane)
	var order []int64
	for _, c := range s.Contours {
		if len(c.Points) == 0 {
			continue
		}
		offset := t.SliceOffset(c.Points[0])
		key := int64(math.Round(offset * planeKeyPrecision))
		p, ok := byKey[key]
		if !ok {
			p = &Plane{Offset: float64(key) / planeKeyPrecision}
			byKey[key] = p
			order = append(order, key)
		}
		loop := make([]Point2D, len(c.Points))
		for i, pt := range c.Points {
			u, v := t.InPlane(pt)
			loop[i] = Point2D{X: u, Y: v}
		}
		p.Loops = append(p.Loops, loop)
	}

	planes := make([]Plane, 0, len(order))
	for _, k := range order {
		planes = append(planes, *byKey[k])
	}
	return planes
}

// StructureVolume returns the geometric volume of a structure in cc
func StructureVolume(t *geometry.Transform, s *models.Structure) float64 {
	return CubicCentimetres(SlabVolume(Planes(t, s)))
}
