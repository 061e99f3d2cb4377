package dicomio

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"brachyeval/internal/models"
)

// LoadPlan reads an RTPLAN file
func LoadPlan(path string) (*models.Plan, error) {
	ds, err := parse(path, ModalityPlan)
	if err != nil {
		return nil, err
	}
	p, err := PlanFromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// PlanFromDataset extracts the prescription and dose reference points of a
// brachytherapy plan. Missing fraction data leaves Fractions at zero so the
// caller can fall back to another source.
func PlanFromDataset(ds *dicom.Dataset) (*models.Plan, error) {
	el := ds.Elements
	p := &models.Plan{
		PatientID:   stringOf(el, tag.PatientID),
		PatientName: stringOf(el, tag.PatientName),
	}
	for _, t := range []tag.Tag{tag.RTPlanLabel, tag.RTPlanName, tag.SeriesDescription} {
		if p.Label = stringOf(el, t); p.Label != "" {
			break
		}
	}

	if groups := items(el, tag.FractionGroupSequence); len(groups) > 0 {
		n, _, err := intOf(groups[0], tag.NumberOfFractionsPlanned)
		if err != nil {
			return nil, err
		}
		p.Fractions = n

		if setups := items(groups[0], tag.ReferencedBrachyApplicationSetupSequence); len(setups) > 0 {
			d, err := floatsOf(setups[0], tag.BrachyApplicationSetupDose)
			if err != nil {
				return nil, err
			}
			if len(d) > 0 {
				p.DosePerFraction = d[0]
			}
		}
	}

	for i, ref := range items(el, tag.DoseReferenceSequence) {
		name := stringOf(ref, tag.DoseReferenceDescription)
		if name == "" || name == "-" {
			name = fmt.Sprintf("Unnamed Point %d", i+1)
		}
		pt := models.DosePoint{Name: strings.TrimSpace(name)}

		coords, err := floatsOf(ref, tag.DoseReferencePointCoordinates)
		if err != nil {
			return nil, fmt.Errorf("dose reference %q: %w", name, err)
		}
		if len(coords) == 3 {
			pt.Position = &models.Point3D{X: coords[0], Y: coords[1], Z: coords[2]}
		}
		dose, err := floatsOf(ref, tag.TargetPrescriptionDose)
		if err != nil {
			return nil, fmt.Errorf("dose reference %q: %w", name, err)
		}
		if len(dose) > 0 {
			d := dose[0]
			pt.PrescribedDose = &d
		}
		p.DoseReferences = append(p.DoseReferences, pt)
	}
	return p, nil
}
