package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"brachyeval/pkg/constraint"
	"brachyeval/pkg/evaluation"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	metStyle     = cellStyle.Foreground(lipgloss.Color("42"))
	warningStyle = cellStyle.Foreground(lipgloss.Color("214"))
	notMetStyle  = cellStyle.Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle   = cellStyle.Foreground(lipgloss.Color("244"))
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func statusStyle(s constraint.Status) lipgloss.Style {
	switch s {
	case constraint.Met:
		return metStyle
	case constraint.Warning:
		return warningStyle
	case constraint.NotMet:
		return notMetStyle
	}
	return mutedStyle
}

func value(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

// newTable returns a bordered table; statusCol (or -1) is coloured by statuses
func newTable(headers []string, rows [][]string, statuses []constraint.Status, statusCol int) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusCol && row >= 0 && row < len(statuses) {
				return statusStyle(statuses[row])
			}
			return cellStyle
		})
}

// writeTable prints the report for a terminal
func writeTable(w io.Writer, r *evaluation.Report) error {
	var b strings.Builder

	fmt.Fprintln(&b, "================================")
	fmt.Fprintln(&b, titleStyle.Render("HDR BRACHYTHERAPY PLAN EVALUATION"))
	fmt.Fprintln(&b, "================================")
	fmt.Fprintf(&b, "Run:           %s\n", r.RunID)
	fmt.Fprintf(&b, "Protocol:      %s\n", r.Protocol)
	if r.Plan.Label != "" {
		fmt.Fprintf(&b, "Plan:          %s\n", r.Plan.Label)
	}
	if r.Plan.DosePerFraction > 0 {
		fmt.Fprintf(&b, "Prescription:  %d x %.2f Gy\n", r.Fractions, r.Plan.DosePerFraction)
	} else {
		fmt.Fprintf(&b, "Fractions:     %d\n", r.Fractions)
	}
	if r.ExternalBeam != nil {
		fmt.Fprintf(&b, "External beam: %d x %.2f Gy\n", r.ExternalBeam.Fractions, r.ExternalBeam.DosePerFraction)
	} else {
		fmt.Fprintln(&b, "External beam: none")
	}

	var rows [][]string
	for _, s := range r.Structures {
		for _, m := range s.Metrics {
			unit := "Gy"
			if strings.HasPrefix(m.Name, "V") {
				unit = "cc"
			}
			row := []string{s.Organ, m.Name, value(m.PerFraction, 2) + " " + unit, value(m.Total, 2), "-", "-"}
			if m.Biological != nil {
				row[4] = fmt.Sprintf("%.2f", m.Biological.TotalBED)
				row[5] = fmt.Sprintf("%.2f", m.Biological.EQD2)
			}
			if m.ExceedsVolume {
				row[2] += " *"
			}
			rows = append(rows, row)
		}
	}
	fmt.Fprintln(&b, "\nDose-volume metrics (* volume larger than organ):")
	fmt.Fprintln(&b, newTable([]string{"Organ", "Metric", "Per fraction", "Total (Gy)", "BED (Gy)", "EQD2 (Gy)"}, rows, nil, -1).Render())

	rows = nil
	for _, s := range r.Structures {
		name := s.Name
		if s.Missing {
			name = "(not delineated)"
		}
		rows = append(rows, []string{name, s.Organ, fmt.Sprintf("%.1f", s.AlphaBeta),
			fmt.Sprintf("%.2f", s.Volume), fmt.Sprintf("%.2f", s.SampledVolume), fmt.Sprintf("%d", s.Voxels)})
	}
	fmt.Fprintln(&b, "\nStructures:")
	fmt.Fprintln(&b, newTable([]string{"Structure", "Organ", "a/b", "Volume (cc)", "On grid (cc)", "Voxels"}, rows, nil, -1).Render())

	rows = nil
	var statuses []constraint.Status
	for _, s := range r.Structures {
		for _, c := range s.Constraints {
			toMeet := "-"
			if c.DoseToMeet != nil {
				if c.DoseToMeet.Status == constraint.Solved {
					toMeet = fmt.Sprintf("%.2f Gy", c.DoseToMeet.DosePerFraction)
				} else {
					toMeet = c.DoseToMeet.Status.String()
				}
			}
			rows = append(rows, []string{c.Constraint, value(c.Outcome.Value, 2), c.Outcome.Status.String(), toMeet})
			statuses = append(statuses, c.Outcome.Status)
		}
	}
	if len(rows) > 0 {
		fmt.Fprintln(&b, "\nConstraints (dose to meet is per fraction):")
		fmt.Fprintln(&b, newTable([]string{"Constraint", "Value", "Status", "Dose to meet"}, rows, statuses, 2).Render())
	}

	if len(r.Points) > 0 {
		rows = nil
		statuses = nil
		for _, p := range r.Points {
			eqd2 := "-"
			if p.Biological != nil {
				eqd2 = fmt.Sprintf("%.2f", p.Biological.EQD2)
			}
			status := constraint.NotEvaluable
			label := "report only"
			if p.Outcome != nil {
				status = p.Outcome.Status
				label = status.String()
			} else if p.Constraint == "" {
				label = "-"
			}
			rows = append(rows, []string{p.Name, p.Source, value(p.DosePerFraction, 2), eqd2, label})
			statuses = append(statuses, status)
		}
		fmt.Fprintln(&b, "\nDose points:")
		fmt.Fprintln(&b, newTable([]string{"Point", "Source", "Dose/fx (Gy)", "EQD2 (Gy)", "Status"}, rows, statuses, 4).Render())
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(&b, "\nWarnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", warn)
		}
	}
	if failures := r.SortedFailures(); len(failures) > 0 {
		fmt.Fprintln(&b, "\nNot evaluated:")
		for _, f := range failures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	s := r.Summary()
	fmt.Fprintf(&b, "\nSummary: %d met, %d warning, %d not met, %d not evaluable\n", s.Met, s.Warning, s.NotMet, s.NotEvaluable)
	if r.Passed() {
		fmt.Fprintln(&b, metStyle.UnsetPadding().Render("All constraints pass."))
	} else {
		fmt.Fprintln(&b, notMetStyle.UnsetPadding().Render("Plan does not pass all constraints."))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, r *evaluation.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
