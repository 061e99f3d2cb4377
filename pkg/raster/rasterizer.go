package raster

import (
	"math"
	"sort"

	"brachyeval/pkg/geometry"
)

// crossing is where one polygon edge crosses a row of voxel centres
type crossing struct {
	x       float64
	winding int
}

// Rasterizer fills voxel-space polygon loops into a mask. A voxel is inside a
// loop when its centre is inside under the nonzero winding rule.
// One instance is reused for every loop of a structure.
type Rasterizer struct {
	width, height int
	crossings     []crossing
}

// NewRasterizer creates a rasterizer for grid planes of the given size
func NewRasterizer(width, height int) *Rasterizer {
	return &Rasterizer{width: width, height: height}
}

// FillLoop ORs the interior of one loop into slice loop.Slice of mask.
// The loop is filled on its own so that loops sharing a slice are unioned
// rather than cancelling each other out. Vertices may lie outside the plane.
func (r *Rasterizer) FillLoop(mask *Mask, loop geometry.VoxelLoop) {
	pts := loop.Points
	if len(pts) < 3 || loop.Slice < 0 || loop.Slice >= mask.Depth {
		return
	}

	lo, hi := pts[0].J, pts[0].J
	for _, p := range pts[1:] {
		lo = math.Min(lo, p.J)
		hi = math.Max(hi, p.J)
	}
	first := max(0, int(math.Ceil(lo)))
	last := min(r.height-1, int(math.Floor(hi)))

	for j := first; j <= last; j++ {
		y := float64(j)
		r.crossings = r.crossings[:0]
		for k := range pts {
			a, b := pts[k], pts[(k+1)%len(pts)]
			// half-open in y so a vertex on the row is counted once
			if (a.J <= y) == (b.J <= y) {
				continue
			}
			w := 1
			if b.J < a.J {
				w = -1
			}
			x := a.I + (y-a.J)*(b.I-a.I)/(b.J-a.J)
			r.crossings = append(r.crossings, crossing{x: x, winding: w})
		}
		sort.Slice(r.crossings, func(i, k int) bool { return r.crossings[i].x < r.crossings[k].x })

		winding := 0
		for c := 0; c+1 < len(r.crossings); c++ {
			winding += r.crossings[c].winding
			if winding == 0 {
				continue
			}
			// centres in [left, right)
			from := max(0, int(math.Ceil(r.crossings[c].x)))
			to := min(r.width-1, int(math.Ceil(r.crossings[c+1].x))-1)
			for i := from; i <= to; i++ {
				mask.Set(i, j, loop.Slice, true)
			}
		}
	}
}

// Rasterize builds the organ mask for a set of loops. Loops are grouped per
// slice and their fills ORed; slices without loops stay empty.
func Rasterize(width, height, depth int, loops []geometry.VoxelLoop) *Mask {
	mask := NewMask(width, height, depth)
	if len(loops) == 0 {
		return mask
	}

	bySlice := make(map[int][]geometry.VoxelLoop)
	for _, l := range loops {
		bySlice[l.Slice] = append(bySlice[l.Slice], l)
	}
	slices := make([]int, 0, len(bySlice))
	for k := range bySlice {
		slices = append(slices, k)
	}
	sort.Ints(slices)

	r := NewRasterizer(width, height)
	for _, k := range slices {
		for _, l := range bySlice[k] {
			r.FillLoop(mask, l)
		}
	}
	return mask
}
