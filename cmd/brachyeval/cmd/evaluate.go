package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"brachyeval/internal/models"
	"brachyeval/pkg/config"
	"brachyeval/pkg/dicomio"
	"brachyeval/pkg/evaluation"
	"brachyeval/pkg/logging"
	"brachyeval/pkg/radiobiology"
)

// patientCase is everything read from one patient directory
type patientCase struct {
	files      *dicomio.Files
	grid       *models.DoseGrid
	structures []models.Structure
	plan       *models.Plan
}

func loadCase(dir string, log *logging.Logger) (*patientCase, error) {
	files, err := dicomio.Discover(dir)
	if err != nil {
		return nil, err
	}
	if err := files.Require(); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	log.Info("patient files found",
		"patient_id", files.PatientID,
		"dose", files.Dose,
		"structures", files.Structure,
		"plan", files.Plan,
		"skipped", len(files.Skipped))

	c := &patientCase{files: files}
	if c.grid, err = dicomio.LoadDoseGrid(files.Dose); err != nil {
		return nil, err
	}
	if c.structures, err = dicomio.LoadStructures(files.Structure); err != nil {
		return nil, err
	}
	if files.Plan != "" {
		if c.plan, err = dicomio.LoadPlan(files.Plan); err != nil {
			return nil, err
		}
	} else {
		log.Warn("no RTPLAN found, fraction count must come from --fractions")
	}
	log.Debug("dose grid loaded",
		"columns", c.grid.Columns, "rows", c.grid.Rows, "slices", c.grid.Depth(),
		"spacing_x", c.grid.Spacing.X, "spacing_y", c.grid.Spacing.Y)
	return c, nil
}

// evaluateCase runs the evaluator with the configuration and command flags
func evaluateCase(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logging.Logger, c *patientCase) (*evaluation.Report, error) {
	protocol, err := cfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("invalid protocol: %w", err)
	}

	priorPath, _ := cmd.Flags().GetString("prior")
	if priorPath == "" {
		priorPath = cfg.PriorCourse
	}
	var prior config.PriorCourse
	if priorPath != "" {
		if prior, err = config.LoadPriorCourse(priorPath); err != nil {
			return nil, err
		}
	}

	ebrt := cfg.ExternalBeam
	ebrtFractions, _ := cmd.Flags().GetInt("ebrt-fractions")
	ebrtDose, _ := cmd.Flags().GetFloat64("ebrt-dose")
	if ebrtFractions > 0 && ebrtDose > 0 {
		ebrt = &radiobiology.Schedule{Fractions: ebrtFractions, DosePerFraction: ebrtDose}
	}
	if noEBRT, _ := cmd.Flags().GetBool("no-external-beam"); noEBRT {
		ebrt = nil
	}

	fractions, _ := cmd.Flags().GetInt("fractions")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Processing.NumWorkers
	}

	e := evaluation.NewEvaluator(evaluation.Params{
		Protocol:     protocol,
		ExternalBeam: ebrt,
		Prior:        prior,
		Fractions:    fractions,
		NumWorkers:   workers,
		DVHBinWidth:  cfg.Processing.DVHBinWidth,
		Logger:       log,
	})
	return e.Evaluate(ctx, c.grid, c.structures, c.plan)
}

func addEvaluationFlags(cmd *cobra.Command) {
	pf := cmd.Flags()
	pf.StringP("dir", "d", "", "directory containing the patient's RT DICOM files")
	pf.String("prior", "", "prior brachytherapy EQD2 file (YAML); overrides the config file")
	pf.IntP("fractions", "n", 0, "number of brachytherapy fractions; overrides the plan")
	pf.Int("ebrt-fractions", 0, "external beam fractions; overrides the config file with --ebrt-dose")
	pf.Float64("ebrt-dose", 0, "external beam dose per fraction in Gy")
	pf.Bool("no-external-beam", false, "ignore the configured external beam course")
	pf.Int("workers", 0, "structures evaluated in parallel (default from config)")
}

func dirArg(cmd *cobra.Command, args []string) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" && len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return "", fmt.Errorf("patient directory is required. Use --dir flag or provide as argument")
	}
	return dir, nil
}

// NewEvaluateCmd creates the evaluate cobra command
func NewEvaluateCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [dir]",
		Short: "evaluate a plan against the protocol",
		Long:  "Evaluates the RT plan in a patient directory and prints per-organ DVH metrics, BED/EQD2 and constraint outcomes.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dirArg(cmd, args)
			if err != nil {
				return err
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Close()

			start := time.Now()
			c, err := loadCase(dir, log)
			if err != nil {
				return err
			}
			report, err := evaluateCase(ctx, cmd, cfg, log, c)
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			if format == "" {
				format = cfg.Output.Format
			}
			out := cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			switch format {
			case "json":
				err = writeJSON(out, report)
			case "table", "":
				err = writeTable(out, report)
			default:
				return fmt.Errorf("unknown output format %q (table|json)", format)
			}
			if err != nil {
				return err
			}

			if slicesDir, _ := cmd.Flags().GetString("slices-dir"); slicesDir != "" {
				written, err := exportSlices(c.grid, report, slicesDir, sliceOptions{axis: "z", scale: 4})
				if err != nil {
					return err
				}
				log.Info("dose slices written", "dir", slicesDir, "count", len(written))
			}
			log.Info("done", "elapsed", time.Since(start).Round(time.Millisecond).String())

			if strict, _ := cmd.Flags().GetBool("strict"); strict && !report.Passed() {
				s := report.Summary()
				return fmt.Errorf("plan does not pass: %d not met, %d not evaluable", s.NotMet, s.NotEvaluable)
			}
			return nil
		},
	}
	addEvaluationFlags(cmd)
	pf := cmd.Flags()
	pf.StringP("format", "f", "", "output format (table|json); defaults to the config file")
	pf.StringP("output", "o", "", "write the report to this file instead of stdout")
	pf.String("slices-dir", "", "also export dose slices with organ overlays to this directory")
	pf.Bool("strict", false, "exit non-zero unless every constraint is met or warned")
	return cmd
}
