package cmd

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/spf13/cobra"

	"brachyeval/internal/models"
	"brachyeval/pkg/evaluation"
	"brachyeval/pkg/visualization"
)

type sliceOptions struct {
	axis    string
	scale   int
	maxDose float64
	all     bool
}

// exportSlices writes dose slices with every organ mask of the report drawn on top
func exportSlices(grid *models.DoseGrid, report *evaluation.Report, dir string, opts sliceOptions) ([]string, error) {
	viewer := visualization.NewViewer(grid, opts.maxDose)
	viewer.SetScale(opts.scale)
	for _, s := range report.Structures {
		if s.Mask == nil {
			continue
		}
		if err := viewer.AddOverlay(s.Organ, s.Mask, color.RGBA{}); err != nil {
			return nil, err
		}
	}

	var written []string
	axes := []string{opts.axis}
	if opts.axis == "all" {
		axes = []string{"x", "y", "z"}
	}
	for _, axis := range axes {
		out := dir
		if len(axes) > 1 {
			out = filepath.Join(dir, axis)
		}
		paths, err := viewer.SaveSliceSequence(axis, out, !opts.all)
		written = append(written, paths...)
		if err != nil {
			return written, fmt.Errorf("saving %s-axis slices: %w", axis, err)
		}
	}
	return written, nil
}

// NewSlicesCmd creates the slices cobra command
func NewSlicesCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slices [dir]",
		Short: "export dose slices with organ masks",
		Long: "Builds the organ masks of a patient directory on its dose grid and writes JPEG slices\n" +
			"with every mask outlined, for checking how contours land on the dose grid.",
		Args: cobra.MaximumNArgs(1),
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

			c, err := loadCase(dir, log)
			if err != nil {
				return err
			}
			report, err := evaluateCase(ctx, cmd, cfg, log, c)
			if err != nil {
				return err
			}

			opts := sliceOptions{}
			opts.axis, _ = cmd.Flags().GetString("axis")
			opts.scale, _ = cmd.Flags().GetInt("scale")
			opts.maxDose, _ = cmd.Flags().GetFloat64("max-dose")
			opts.all, _ = cmd.Flags().GetBool("all")
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = cfg.Output.SlicesDir
			}

			written, err := exportSlices(c.grid, report, out, opts)
			if err != nil {
				return err
			}
			for _, f := range report.Failures {
				if f.Kind == evaluation.PointFailure {
					continue
				}
				log.Warn("structure missing from slices", "organ", f.Organ, "reason", f.Reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d slices saved to: %s\n", len(written), out)
			return nil
		},
	}
	addEvaluationFlags(cmd)
	pf := cmd.Flags()
	pf.String("out", "", "output directory (default from config)")
	pf.String("axis", "z", "slice axis (x, y, z or all)")
	pf.Int("scale", 4, "image upsampling factor")
	pf.Float64("max-dose", 0, "dose in Gy shown as white (default grid maximum)")
	pf.Bool("all", false, "also write slices no organ touches")
	return cmd
}
