package dvh

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the statistic a metric extracts from a dose sample
type Kind int

const (
	DoseToVolume Kind = iota
	DoseToPercent
	MaxDose
	MeanDose
	MinDose
	VolumeAtDose
)

// Metric is a named dose-volume statistic such as D2cc, D90 or V7Gy
type Metric struct {
	Name  string
	Kind  Kind
	Param float64
}

// DefaultMetrics is the metric set reported for every structure
var DefaultMetrics = []string{"D0.1cc", "D1cc", "D2cc", "D90", "D95", "D98", "Dmax", "Dmean", "Dmin"}

// ParseMetric parses a metric name. Accepted forms: D<x>cc, D<y> or D<y>%,
// Dmax, Dmean, Dmin and V<x>Gy. Matching is case-insensitive; the returned
// name is canonical.
func ParseMetric(name string) (Metric, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	switch s {
	case "dmax", "max":
		return Metric{Name: "Dmax", Kind: MaxDose}, nil
	case "dmean", "mean":
		return Metric{Name: "Dmean", Kind: MeanDose}, nil
	case "dmin", "min":
		return Metric{Name: "Dmin", Kind: MinDose}, nil
	}

	switch {
	case strings.HasPrefix(s, "d") && strings.HasSuffix(s, "cc"):
		v, err := parseParam(name, s[1:len(s)-2])
		if err != nil {
			return Metric{}, err
		}
		return Metric{Name: "D" + format(v) + "cc", Kind: DoseToVolume, Param: v}, nil
	case strings.HasPrefix(s, "v") && strings.HasSuffix(s, "gy"):
		v, err := parseParam(name, s[1:len(s)-2])
		if err != nil {
			return Metric{}, err
		}
		return Metric{Name: "V" + format(v) + "Gy", Kind: VolumeAtDose, Param: v}, nil
	case strings.HasPrefix(s, "d"):
		v, err := parseParam(name, strings.TrimSuffix(s[1:], "%"))
		if err != nil {
			return Metric{}, err
		}
		if v > 100 {
			return Metric{}, fmt.Errorf("metric %q: percentage above 100", name)
		}
		return Metric{Name: "D" + format(v), Kind: DoseToPercent, Param: v}, nil
	}
	return Metric{}, fmt.Errorf("unknown metric %q", name)
}

func parseParam(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("metric %q: invalid parameter %q", name, s)
	}
	return v, nil
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsDose reports whether the metric value is a dose in Gy.
// Only dose metrics can be converted to BED/EQD2.
func (m Metric) IsDose() bool {
	return m.Kind != VolumeAtDose
}

// Evaluate extracts the metric from a sample
func (s *DoseSample) Evaluate(m Metric) Result {
	switch m.Kind {
	case DoseToVolume:
		return s.DoseToVolume(m.Param)
	case DoseToPercent:
		return s.DoseToPercent(m.Param)
	case MaxDose:
		return Result{Value: s.Max()}
	case MeanDose:
		return Result{Value: s.Mean()}
	case MinDose:
		return Result{Value: s.Min()}
	case VolumeAtDose:
		return Result{Value: s.VolumeAtDose(m.Param)}
	}
	return Result{}
}
