// Package visualization renders dose grid slices with organ masks drawn on top,
// for visual review of how contours landed on the dose grid.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"brachyeval/internal/models"
	"brachyeval/pkg/raster"
)

// Overlay is an organ mask drawn over the dose image
type Overlay struct {
	Name  string
	Mask  *raster.Mask
	Color color.RGBA
}

// Palette holds the overlay colours assigned in order
var Palette = []color.RGBA{
	{R: 255, G: 215, A: 255},         // yellow
	{R: 150, G: 75, A: 255},          // brown
	{R: 0, G: 200, B: 80, A: 255},    // green
	{R: 255, G: 120, B: 200, A: 255}, // pink
	{R: 230, A: 255},                 // red
	{R: 0, G: 160, B: 255, A: 255},   // blue
	{R: 255, G: 140, A: 255},         // orange
	{R: 170, G: 100, B: 255, A: 255}, // violet
}

// Viewer extracts 2D slices from a dose grid
type Viewer struct {
	grid     *models.DoseGrid
	overlays []Overlay

	// maxDose is the dose in Gy rendered as white
	maxDose float64

	// scale is the integer upsampling factor of saved images
	scale int
}

// NewViewer creates a viewer for grid. A maxDose of zero or less uses the
// grid maximum.
func NewViewer(grid *models.DoseGrid, maxDose float64) *Viewer {
	if maxDose <= 0 {
		for _, v := range grid.Data {
			maxDose = math.Max(maxDose, v*grid.DoseScaling)
		}
	}
	return &Viewer{grid: grid, maxDose: maxDose, scale: 1}
}

// SetScale sets the upsampling factor applied by ExtractSlice
func (v *Viewer) SetScale(scale int) {
	if scale < 1 {
		scale = 1
	}
	v.scale = scale
}

// AddOverlay draws mask on every extracted slice. The colour is taken from
// Palette when c is the zero colour.
func (v *Viewer) AddOverlay(name string, mask *raster.Mask, c color.RGBA) error {
	if mask.Width != v.grid.Columns || mask.Height != v.grid.Rows || mask.Depth != v.grid.Depth() {
		return fmt.Errorf("overlay %s: mask %dx%dx%d does not match grid %dx%dx%d", name,
			mask.Width, mask.Height, mask.Depth, v.grid.Columns, v.grid.Rows, v.grid.Depth())
	}
	if c == (color.RGBA{}) {
		c = Palette[len(v.overlays)%len(Palette)]
	}
	v.overlays = append(v.overlays, Overlay{Name: name, Mask: mask, Color: c})
	return nil
}

// plane maps image coordinates (i, j) to a voxel for one slice
type plane struct {
	w, h  int
	voxel func(i, j int) (x, y, z int)
}

func (v *Viewer) plane(axis string, position int) (plane, error) {
	if position < 0 {
		return plane{}, fmt.Errorf("position must be non-negative")
	}
	g := v.grid
	switch axis {
	case "x", "X":
		// sagittal: depth across, rows down
		if position >= g.Columns {
			return plane{}, fmt.Errorf("position %d exceeds width %d", position, g.Columns)
		}
		return plane{w: g.Depth(), h: g.Rows, voxel: func(i, j int) (int, int, int) { return position, j, i }}, nil
	case "y", "Y":
		if position >= g.Rows {
			return plane{}, fmt.Errorf("position %d exceeds height %d", position, g.Rows)
		}
		return plane{w: g.Columns, h: g.Depth(), voxel: func(i, j int) (int, int, int) { return i, position, j }}, nil
	case "z", "Z":
		if position >= g.Depth() {
			return plane{}, fmt.Errorf("position %d exceeds depth %d", position, g.Depth())
		}
		return plane{w: g.Columns, h: g.Rows, voxel: func(i, j int) (int, int, int) { return i, j, position }}, nil
	}
	return plane{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice renders one slice along axis. Dose is grey scale; overlay
// interiors are tinted and their borders drawn in full colour.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	for j := 0; j < p.h; j++ {
		for i := 0; i < p.w; i++ {
			x, y, z := p.voxel(i, j)
			grey := 0.0
			if v.maxDose > 0 {
				grey = math.Max(0, math.Min(1, v.grid.Dose(x, y, z)/v.maxDose))
			}
			r, g, b := grey*255, grey*255, grey*255

			for _, o := range v.overlays {
				if !o.Mask.At(x, y, z) {
					continue
				}
				alpha := 0.35
				if v.border(p, o.Mask, i, j) {
					alpha = 1
				}
				r = r*(1-alpha) + float64(o.Color.R)*alpha
				g = g*(1-alpha) + float64(o.Color.G)*alpha
				b = b*(1-alpha) + float64(o.Color.B)*alpha
			}
			img.SetRGBA(i, j, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
		}
	}

	if v.scale == 1 {
		return img, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, p.w*v.scale, p.h*v.scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return scaled, nil
}

// border reports whether in-plane pixel (i, j) of the mask has a 4-neighbour outside it
func (v *Viewer) border(p plane, m *raster.Mask, i, j int) bool {
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		ni, nj := i+d[0], j+d[1]
		if ni < 0 || ni >= p.w || nj < 0 || nj >= p.h {
			return true
		}
		if !m.At(p.voxel(ni, nj)) {
			return true
		}
	}
	return false
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along axis into outputDir.
// With onlyOverlaid set, slices no overlay touches are skipped. It returns
// the written paths.
func (v *Viewer) SaveSliceSequence(axis, outputDir string, onlyOverlaid bool) ([]string, error) {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.grid.Columns
	case "y", "Y":
		maxPos = v.grid.Rows
	case "z", "Z":
		maxPos = v.grid.Depth()
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	for pos := 0; pos < maxPos; pos++ {
		if onlyOverlaid && !v.touches(axis, pos) {
			continue
		}
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return written, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

func (v *Viewer) touches(axis string, pos int) bool {
	p, err := v.plane(axis, pos)
	if err != nil {
		return false
	}
	for _, o := range v.overlays {
		for j := 0; j < p.h; j++ {
			for i := 0; i < p.w; i++ {
				if o.Mask.At(p.voxel(i, j)) {
					return true
				}
			}
		}
	}
	return false
}
