// Package dicomio reads RT DICOM objects (RTDOSE, RTSTRUCT, RTPLAN) into the
// evaluation models. Parsing of a dataset is separated from file access so
// that datasets built in memory can be converted the same way.
package dicomio

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Modalities handled by the evaluator
const (
	ModalityDose      = "RTDOSE"
	ModalityStructure = "RTSTRUCT"
	ModalityPlan      = "RTPLAN"
)

// ErrNoDicom is returned when a directory holds no readable RT object
var ErrNoDicom = errors.New("no RT DICOM files found")

// PatientMismatchError is returned when files of one directory belong to
// different patients
type PatientMismatchError struct {
	Path      string
	PatientID string
	Expected  string
}

func (e *PatientMismatchError) Error() string {
	return fmt.Sprintf("%s belongs to patient %q, expected %q",
		filepath.Base(e.Path), e.PatientID, e.Expected)
}

// Files is the set of RT objects found for one patient
type Files struct {
	Dose      string
	Structure string
	Plan      string
	PatientID string

	// Skipped lists files that could not be parsed or have another modality
	Skipped []string
}

// Require checks that the objects needed for an evaluation are present
func (f *Files) Require() error {
	var missing []string
	if f.Dose == "" {
		missing = append(missing, ModalityDose)
	}
	if f.Structure == "" {
		missing = append(missing, ModalityStructure)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, " and "))
	}
	return nil
}

// Discover walks dir and classifies every DICOM file by modality. When a
// modality occurs more than once the lexically first path wins. All files
// must carry the same PatientID.
func Discover(dir string) (*Files, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".dcm" || ext == "" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Strings(paths)

	files := &Files{}
	found := false
	for _, path := range paths {
		ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			files.Skipped = append(files.Skipped, path)
			continue
		}

		var slot *string
		switch stringOf(ds.Elements, tag.Modality) {
		case ModalityDose:
			slot = &files.Dose
		case ModalityStructure:
			slot = &files.Structure
		case ModalityPlan:
			slot = &files.Plan
		default:
			files.Skipped = append(files.Skipped, path)
			continue
		}

		patient := stringOf(ds.Elements, tag.PatientID)
		if !found {
			files.PatientID = patient
			found = true
		} else if patient != files.PatientID {
			return nil, &PatientMismatchError{Path: path, PatientID: patient, Expected: files.PatientID}
		}
		if *slot == "" {
			*slot = path
		} else {
			files.Skipped = append(files.Skipped, path)
		}
	}

	if !found {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoDicom)
	}
	return files, nil
}

func parse(path, modality string) (*dicom.Dataset, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if m := stringOf(ds.Elements, tag.Modality); m != "" && m != modality {
		return nil, fmt.Errorf("%s: modality is %s, expected %s", path, m, modality)
	}
	return &ds, nil
}
