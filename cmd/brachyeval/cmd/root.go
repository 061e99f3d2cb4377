package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"brachyeval/pkg/config"
	"brachyeval/pkg/logging"
)

const defaultConfigPath = "brachyeval.yaml"

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brachyeval",
		Short: "evaluate HDR brachytherapy plans against dose-volume constraints",
		Long: "Reads RTDOSE, RTSTRUCT and RTPLAN files of one patient, computes DVH metrics per organ,\n" +
			"accumulates BED/EQD2 with external beam and prior brachytherapy, and checks the\n" +
			"configured protocol constraints.",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewInitConfigCmd(ctx),
		NewEvaluateCmd(ctx),
		NewSlicesCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", config.GetEnvOrDefault(config.EnvConfigPath, defaultConfigPath), "protocol configuration file (YAML)")
	pf.String("log-level", config.GetEnvOrDefault(config.EnvLogLevel, ""), "log level (debug, info, warn, error); defaults to the config file")
	pf.String("log-file", config.GetEnvOrDefault(config.EnvLogFile, ""), "also write JSON logs to this rotated file")
	pf.Bool("keep-identifiers", false, "log patient identifiers unmasked")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}

// NewInitConfigCmd writes the default protocol configuration
func NewInitConfigCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "write the default protocol configuration",
		Long:  "Writes the default EMBRACE II cervix configuration to the --config path for editing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			if !force && fileExists(path) {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to: %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

// setup loads the configuration and builds the logger for a command.
// The flag level wins over the config file; without either, verbose
// configurations log at info and quiet ones at warn.
func setup(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.Output.LogLevel
	}
	if level == "" {
		level = "warn"
		if cfg.Output.Verbose {
			level = "info"
		}
	}
	file, _ := cmd.Flags().GetString("log-file")
	if file == "" {
		file = cfg.Output.LogFile
	}
	keep, _ := cmd.Flags().GetBool("keep-identifiers")

	log, err := logging.New(logging.Options{
		Level:           level,
		File:            file,
		Console:         cmd.ErrOrStderr(),
		KeepIdentifiers: keep,
	})
	if err != nil {
		return nil, nil, err
	}
	if fileExists(path) {
		log.Debug("configuration loaded", "path", path)
	} else {
		log.Debug("configuration file not found, using defaults", "path", path)
	}
	return cfg, log, nil
}
