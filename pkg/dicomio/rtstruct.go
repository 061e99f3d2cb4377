package dicomio

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"brachyeval/internal/models"
)

// LoadStructures reads an RTSTRUCT file
func LoadStructures(path string) ([]models.Structure, error) {
	ds, err := parse(path, ModalityStructure)
	if err != nil {
		return nil, err
	}
	s, err := StructuresFromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// StructuresFromDataset returns every ROI of the structure set that has at
// least one planar contour, in StructureSetROISequence order. Contours with
// fewer than three points (markers, single points) are dropped.
func StructuresFromDataset(ds *dicom.Dataset) ([]models.Structure, error) {
	rois := items(ds.Elements, tag.StructureSetROISequence)
	if len(rois) == 0 {
		return nil, &MissingTagError{Name: "StructureSetROISequence"}
	}

	contours := make(map[int][]models.Contour)
	for i, item := range items(ds.Elements, tag.ROIContourSequence) {
		ref, ok, err := intOf(item, tag.ReferencedROINumber)
		if err != nil {
			return nil, fmt.Errorf("ROIContourSequence item %d: %w", i, err)
		}
		if !ok {
			continue
		}
		for j, c := range items(item, tag.ContourSequence) {
			data, err := floatsOf(c, tag.ContourData)
			if err != nil {
				return nil, fmt.Errorf("ROI %d contour %d: %w", ref, j, err)
			}
			if len(data)%3 != 0 {
				return nil, fmt.Errorf("ROI %d contour %d: %d coordinates is not a multiple of 3", ref, j, len(data))
			}
			if len(data) < 9 {
				continue
			}
			pts := make([]models.Point3D, len(data)/3)
			for p := range pts {
				pts[p] = models.Point3D{X: data[3*p], Y: data[3*p+1], Z: data[3*p+2]}
			}
			contours[ref] = append(contours[ref], models.Contour{Points: pts})
		}
	}

	var out []models.Structure
	for i, item := range rois {
		number, ok, err := intOf(item, tag.ROINumber)
		if err != nil {
			return nil, fmt.Errorf("StructureSetROISequence item %d: %w", i, err)
		}
		if !ok {
			continue
		}
		cs := contours[number]
		if len(cs) == 0 {
			continue
		}
		name := stringOf(item, tag.ROIName)
		if name == "" {
			name = fmt.Sprintf("ROI %d", number)
		}
		out = append(out, models.Structure{Number: number, Name: name, Contours: cs})
	}
	return out, nil
}
