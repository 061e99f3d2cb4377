package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"brachyeval/pkg/dvh"
)

// PriorCourse holds the EQD2 already delivered by earlier brachytherapy,
// keyed by normalised organ name and canonical metric name
type PriorCourse map[string]map[string]float64

// LoadPriorCourse reads a YAML file of the form
//
//	Bladder:
//	  D2cc: 12.4
//	  D0.1cc: 15.0
//
// Organ and metric names are normalised so lookups ignore spelling differences.
func LoadPriorCourse(path string) (PriorCourse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading prior course file: %w", err)
	}

	var raw map[string]map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing prior course file: %w", err)
	}

	prior := make(PriorCourse, len(raw))
	for organ, metrics := range raw {
		key := NormalizeName(organ)
		if prior[key] == nil {
			prior[key] = make(map[string]float64, len(metrics))
		}
		for name, eqd2 := range metrics {
			m, err := dvh.ParseMetric(name)
			if err != nil {
				return nil, fmt.Errorf("prior course %s: %w", organ, err)
			}
			if eqd2 < 0 {
				return nil, fmt.Errorf("prior course %s %s: negative EQD2 %g", organ, m.Name, eqd2)
			}
			prior[key][m.Name] = eqd2
		}
	}
	return prior, nil
}

// EQD2 returns the prior EQD2 for an organ and metric, or nil if none was
// recorded. The protocol resolves aliases so "HR-CTV" finds a "CTV-HR" entry.
func (pc PriorCourse) EQD2(p Protocol, organ, metric string) *float64 {
	if pc == nil {
		return nil
	}
	canonical := p.Canonical(organ)
	if v, ok := pc[canonical][metric]; ok {
		return &v
	}
	for key, metrics := range pc {
		if key != canonical && p.Canonical(key) != canonical {
			continue
		}
		if v, ok := metrics[metric]; ok {
			return &v
		}
	}
	return nil
}
