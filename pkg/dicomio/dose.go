package dicomio

import (
	"fmt"
	"math"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"brachyeval/internal/models"
)

// LoadDoseGrid reads an RTDOSE file
func LoadDoseGrid(path string) (*models.DoseGrid, error) {
	ds, err := parse(path, ModalityDose)
	if err != nil {
		return nil, err
	}
	g, err := DoseGridFromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// DoseGridFromDataset converts an RTDOSE dataset into a dose grid.
// Raw stored values are kept; DoseGridScaling converts them to Gy.
func DoseGridFromDataset(ds *dicom.Dataset) (*models.DoseGrid, error) {
	el := ds.Elements

	rows, ok, err := intOf(el, tag.Rows)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingTagError{Name: "Rows"}
	}
	cols, ok, err := intOf(el, tag.Columns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingTagError{Name: "Columns"}
	}
	frames, ok, err := intOf(el, tag.NumberOfFrames)
	if err != nil {
		return nil, err
	}
	if !ok {
		frames = 1
	}

	spacing, err := requireFloats(el, tag.PixelSpacing, 2)
	if err != nil {
		return nil, err
	}
	origin, err := requireFloats(el, tag.ImagePositionPatient, 3)
	if err != nil {
		return nil, err
	}
	orientation, err := floatsOf(el, tag.ImageOrientationPatient)
	if err != nil {
		return nil, err
	}
	scaling, err := floatsOf(el, tag.DoseGridScaling)
	if err != nil {
		return nil, err
	}
	thickness, err := floatsOf(el, tag.SliceThickness)
	if err != nil {
		return nil, err
	}

	g := &models.DoseGrid{
		Columns: cols,
		Rows:    rows,
		Origin:  models.Point3D{X: origin[0], Y: origin[1], Z: origin[2]},
		// PixelSpacing is row spacing then column spacing
		Spacing:     models.PixelSpacing{X: spacing[1], Y: spacing[0]},
		DoseScaling: 1,
	}
	if len(scaling) > 0 {
		g.DoseScaling = scaling[0]
	}
	if len(thickness) > 0 {
		g.SliceThickness = thickness[0]
	}
	switch len(orientation) {
	case 6:
		g.RowDirection = models.Point3D{X: orientation[0], Y: orientation[1], Z: orientation[2]}
		g.ColumnDirection = models.Point3D{X: orientation[3], Y: orientation[4], Z: orientation[5]}
	case 0:
		g.RowDirection, g.ColumnDirection = models.AxialOrientation()
	default:
		return nil, fmt.Errorf("ImageOrientationPatient: expected 6 values, got %d", len(orientation))
	}

	g.SlicePositions, err = slicePositions(el, frames, g)
	if err != nil {
		return nil, err
	}

	g.Data, err = pixelValues(el, rows, cols, frames)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// slicePositions reads GridFrameOffsetVector as offsets from the first slice.
// Absolute positions (first entry non-zero) are shifted so the first slice is 0.
func slicePositions(el []*dicom.Element, frames int, g *models.DoseGrid) ([]float64, error) {
	offsets, err := floatsOf(el, tag.GridFrameOffsetVector)
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		if frames == 1 {
			return []float64{0}, nil
		}
		return nil, &MissingTagError{Name: "GridFrameOffsetVector"}
	}
	if len(offsets) != frames {
		return nil, fmt.Errorf("GridFrameOffsetVector has %d entries for %d frames", len(offsets), frames)
	}
	if offsets[0] != 0 {
		first := offsets[0]
		shifted := make([]float64, len(offsets))
		for i, o := range offsets {
			shifted[i] = o - first
		}
		offsets = shifted
	}
	for _, o := range offsets {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return nil, fmt.Errorf("GridFrameOffsetVector contains %v", o)
		}
	}
	return offsets, nil
}

func pixelValues(el []*dicom.Element, rows, cols, frames int) ([]float64, error) {
	pe := find(el, tag.PixelData)
	if pe == nil || pe.Value == nil {
		return nil, &MissingTagError{Name: "PixelData"}
	}
	info, ok := pe.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("PixelData: unexpected value type %T", pe.Value.GetValue())
	}
	if info.IntentionallySkipped {
		return nil, fmt.Errorf("PixelData was not read")
	}
	if len(info.Frames) != frames {
		return nil, fmt.Errorf("PixelData has %d frames, expected %d", len(info.Frames), frames)
	}

	data := make([]float64, rows*cols*frames)
	for k, f := range info.Frames {
		if f.Encapsulated || f.NativeData == nil {
			return nil, fmt.Errorf("frame %d: compressed dose data is not supported", k)
		}
		base := k * rows * cols
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				px, err := f.NativeData.GetPixel(c, r)
				if err != nil {
					return nil, fmt.Errorf("frame %d pixel (%d,%d): %w", k, c, r, err)
				}
				if len(px) == 0 {
					return nil, fmt.Errorf("frame %d pixel (%d,%d): no samples", k, c, r)
				}
				data[base+r*cols+c] = float64(px[0])
			}
		}
	}
	return data, nil
}
