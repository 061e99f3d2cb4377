package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"brachyeval/pkg/constraint"
	"brachyeval/pkg/dvh"
)

// DefaultOrgan is the alpha/beta key used for organs the protocol does not list
const DefaultOrgan = "Default"

var (
	bracketed     = regexp.MustCompile(`\s*\[.*?\]`)
	parenthesised = regexp.MustCompile(`\s*\(.*?\)`)
)

// NormalizeName canonicalises a structure name: bracketed and parenthesised
// annotations such as "[cm3]" are dropped, the rest is trimmed, lowercased and
// given a capital first letter. "BLADDER (wall)" becomes "Bladder".
func NormalizeName(name string) string {
	name = bracketed.ReplaceAllString(name, "")
	name = parenthesised.ReplaceAllString(name, "")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// words lowercases s and reduces it to single-space separated words padded with
// spaces, so keyword matches never cut through a word ("rv" is not in "cervix")
func words(s string) string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	return " " + strings.Join(f, " ") + " "
}

// PointConstraint is a compiled dose reference point rule
type PointConstraint struct {
	Name       string
	Keywords   []string
	MaxEQD2    *float64
	ReportOnly bool
}

// Protocol is the compiled, read-only form of the protocol section. It is
// built once by Compile and shared by value between evaluation runs.
type Protocol struct {
	Name        string
	Metrics     []dvh.Metric
	Constraints []constraint.Constraint
	Points      []PointConstraint

	alphaBeta map[string]float64
	aliases   map[string]string
}

// Compile validates the configuration and resolves every organ-keyed entry
// into typed records with canonical organ names
func (c *Config) Compile() (Protocol, error) {
	p := Protocol{
		Name:      c.Protocol.Name,
		alphaBeta: make(map[string]float64, len(c.Protocol.AlphaBeta)),
		aliases:   make(map[string]string, len(c.Protocol.Aliases)),
	}

	for from, to := range c.Protocol.Aliases {
		p.aliases[NormalizeName(from)] = NormalizeName(to)
	}
	for organ, ab := range c.Protocol.AlphaBeta {
		if ab <= 0 {
			return Protocol{}, fmt.Errorf("alpha/beta for %q must be positive, got %g", organ, ab)
		}
		p.alphaBeta[p.Canonical(organ)] = ab
	}
	if _, ok := p.alphaBeta[DefaultOrgan]; !ok {
		return Protocol{}, fmt.Errorf("protocol %q has no %q alpha/beta", p.Name, DefaultOrgan)
	}

	metrics := c.Processing.Metrics
	if len(metrics) == 0 {
		metrics = dvh.DefaultMetrics
	}
	for _, name := range metrics {
		m, err := dvh.ParseMetric(name)
		if err != nil {
			return Protocol{}, fmt.Errorf("processing metrics: %w", err)
		}
		p.Metrics = append(p.Metrics, m)
	}

	for i, spec := range c.Protocol.Constraints {
		con, err := p.compileConstraint(spec)
		if err != nil {
			return Protocol{}, fmt.Errorf("constraint %d (%s): %w", i, spec.Organ, err)
		}
		p.Constraints = append(p.Constraints, con)
		if !p.hasMetric(con.Metric) {
			p.Metrics = append(p.Metrics, con.Metric)
		}
	}

	for _, spec := range c.Protocol.Points {
		if spec.Name == "" {
			return Protocol{}, fmt.Errorf("point constraint without a name")
		}
		pc := PointConstraint{Name: spec.Name, MaxEQD2: spec.MaxEQD2, ReportOnly: spec.ReportOnly}
		for _, k := range spec.Keywords {
			pc.Keywords = append(pc.Keywords, words(k))
		}
		p.Points = append(p.Points, pc)
	}

	return p, nil
}

func (p Protocol) compileConstraint(spec ConstraintSpec) (constraint.Constraint, error) {
	if spec.Organ == "" {
		return constraint.Constraint{}, fmt.Errorf("missing organ")
	}
	m, err := dvh.ParseMetric(spec.Metric)
	if err != nil {
		return constraint.Constraint{}, err
	}
	q, err := constraint.ParseQuantity(spec.Quantity)
	if err != nil {
		return constraint.Constraint{}, err
	}
	if !m.IsDose() {
		return constraint.Constraint{}, fmt.Errorf("metric %s is a volume and cannot carry a %s limit", m.Name, q)
	}
	d, err := constraint.ParseDirection(spec.Direction)
	if err != nil {
		return constraint.Constraint{}, err
	}
	if spec.Warning != nil {
		if d == constraint.Max && *spec.Warning > spec.Limit {
			return constraint.Constraint{}, fmt.Errorf("warning %g above max limit %g", *spec.Warning, spec.Limit)
		}
		if d == constraint.Min && *spec.Warning < spec.Limit {
			return constraint.Constraint{}, fmt.Errorf("warning %g below min limit %g", *spec.Warning, spec.Limit)
		}
	}
	return constraint.Constraint{
		Organ:     p.Canonical(spec.Organ),
		Metric:    m,
		Quantity:  q,
		Direction: d,
		Limit:     spec.Limit,
		Warning:   spec.Warning,
	}, nil
}

func (p Protocol) hasMetric(m dvh.Metric) bool {
	for _, have := range p.Metrics {
		if have.Name == m.Name {
			return true
		}
	}
	return false
}

// Canonical maps a structure name to its protocol organ name
func (p Protocol) Canonical(name string) string {
	n := NormalizeName(name)
	if to, ok := p.aliases[n]; ok {
		return to
	}
	return n
}

// AlphaBeta returns the alpha/beta ratio for an organ, falling back to Default
func (p Protocol) AlphaBeta(organ string) float64 {
	if ab, ok := p.alphaBeta[p.Canonical(organ)]; ok {
		return ab
	}
	return p.alphaBeta[DefaultOrgan]
}

// ConstraintsFor returns the constraints that apply to an organ
func (p Protocol) ConstraintsFor(organ string) []constraint.Constraint {
	organ = p.Canonical(organ)
	var out []constraint.Constraint
	for _, c := range p.Constraints {
		if c.Organ == organ {
			out = append(out, c)
		}
	}
	return out
}

// Organs lists the organs with at least one constraint, sorted
func (p Protocol) Organs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range p.Constraints {
		if !seen[c.Organ] {
			seen[c.Organ] = true
			out = append(out, c.Organ)
		}
	}
	sort.Strings(out)
	return out
}

// MatchPoint finds the point constraint for a plan dose reference description.
// An exact (case-insensitive) name match wins over keyword and name-within-description matches.
func (p Protocol) MatchPoint(description string) (PointConstraint, bool) {
	desc := words(description)
	if strings.TrimSpace(desc) == "" {
		return PointConstraint{}, false
	}
	for _, pc := range p.Points {
		if words(pc.Name) == desc {
			return pc, true
		}
	}
	for _, pc := range p.Points {
		for _, k := range pc.Keywords {
			if strings.Contains(desc, k) {
				return pc, true
			}
		}
	}
	for _, pc := range p.Points {
		if strings.Contains(desc, words(pc.Name)) {
			return pc, true
		}
	}
	return PointConstraint{}, false
}
