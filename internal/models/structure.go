package models

// Contour is a single closed planar loop of points in patient space
type Contour struct {
	Points []Point3D
}

// Structure is a named organ or target delineated by one or more contours.
// Several contours may lie on the same plane (disjoint blobs or nested loops).
type Structure struct {
	// Number is the ROI number from the structure set
	Number int

	// Name is the ROI name as delineated, before normalisation
	Name string

	Contours []Contour
}

// DosePoint is a named dose reference point from the plan
type DosePoint struct {
	Name string

	// Position is the patient coordinate of the point, if the plan gives one
	Position *Point3D

	// PrescribedDose is the per-fraction dose the plan assigns to the point, in Gy
	PrescribedDose *float64
}

// Plan carries the plan-level prescription data
type Plan struct {
	Label       string
	PatientID   string
	PatientName string

	// Fractions is the number of planned brachytherapy fractions
	Fractions int

	// DosePerFraction is the prescribed dose per fraction in Gy
	DosePerFraction float64

	DoseReferences []DosePoint
}
