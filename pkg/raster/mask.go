// Package raster turns voxel-space contour loops into 3D organ masks aligned
// with the dose grid.
package raster

// Mask is a 3D boolean voxel array shaped like the dose grid.
// Data is stored in row-major order: index = z*Width*Height + y*Width + x.
type Mask struct {
	Data   []bool
	Width  int
	Height int
	Depth  int
}

// NewMask allocates an all-false mask
func NewMask(width, height, depth int) *Mask {
	return &Mask{
		Data:   make([]bool, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

func (m *Mask) index(x, y, z int) int {
	return z*m.Width*m.Height + y*m.Width + x
}

// At reports whether voxel (x, y, z) is inside the organ
func (m *Mask) At(x, y, z int) bool {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height || z < 0 || z >= m.Depth {
		return false
	}
	return m.Data[m.index(x, y, z)]
}

// Set marks voxel (x, y, z). Out of range voxels are ignored.
func (m *Mask) Set(x, y, z int, v bool) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height || z < 0 || z >= m.Depth {
		return
	}
	m.Data[m.index(x, y, z)] = v
}

// Count returns the number of voxels inside the organ
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// SliceCount returns the number of voxels inside the organ on slice z
func (m *Mask) SliceCount(z int) int {
	if z < 0 || z >= m.Depth {
		return 0
	}
	n := 0
	plane := m.Data[z*m.Width*m.Height : (z+1)*m.Width*m.Height]
	for _, v := range plane {
		if v {
			n++
		}
	}
	return n
}
