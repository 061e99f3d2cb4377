// Package config provides configuration loading and management for brachyeval.
// It handles loading the treatment protocol from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"brachyeval/pkg/dvh"
	"brachyeval/pkg/radiobiology"
)

// ConstraintSpec is one organ constraint as written in the configuration file
type ConstraintSpec struct {
	Organ     string   `yaml:"organ"`
	Metric    string   `yaml:"metric"`
	Quantity  string   `yaml:"quantity"`
	Direction string   `yaml:"direction"`
	Limit     float64  `yaml:"limit"`
	Warning   *float64 `yaml:"warning,omitempty"`
}

// PointSpec is a dose reference point constraint.
// Plan dose references are matched by exact name first, then by keyword.
type PointSpec struct {
	Name       string   `yaml:"name"`
	Keywords   []string `yaml:"keywords,omitempty"`
	MaxEQD2    *float64 `yaml:"maxEQD2,omitempty"`
	ReportOnly bool     `yaml:"reportOnly"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds how many structures are evaluated in parallel
		NumWorkers int `yaml:"numWorkers"`

		// Metrics is the dose-volume metric set reported for every structure
		Metrics []string `yaml:"metrics"`

		// DVHBinWidth is the bin width in Gy of the cumulative DVH curve, 0 disables it
		DVHBinWidth float64 `yaml:"dvhBinWidth"`
	} `yaml:"processing"`

	// Protocol holds the clinical tolerances
	Protocol struct {
		Name string `yaml:"name"`

		// AlphaBeta maps organ names to alpha/beta ratios; "Default" covers the rest
		AlphaBeta map[string]float64 `yaml:"alphaBeta"`

		// Aliases maps alternative structure names onto protocol organ names
		Aliases map[string]string `yaml:"aliases"`

		Constraints []ConstraintSpec `yaml:"constraints"`
		Points      []PointSpec      `yaml:"points"`
	} `yaml:"protocol"`

	// ExternalBeam is the external-beam course delivered alongside brachytherapy
	ExternalBeam *radiobiology.Schedule `yaml:"externalBeam,omitempty"`

	// PriorCourse is an optional YAML file of prior brachytherapy EQD2 per organ and metric
	PriorCourse string `yaml:"priorCourse,omitempty"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		LogLevel string `yaml:"logLevel"`
		LogFile  string `yaml:"logFile"`

		// Format is "table" or "json"
		Format string `yaml:"format"`

		// SlicesDir is where dose slice images are written
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`
}

func limit(v float64) *float64 { return &v }

// DefaultConfig returns a configuration with the EMBRACE II cervix protocol
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Metrics = append([]string(nil), dvh.DefaultMetrics...)
	cfg.Processing.DVHBinWidth = 0.1

	cfg.Protocol.Name = "Cervix HDR - EMBRACE II"
	cfg.Protocol.AlphaBeta = map[string]float64{
		"Bladder": 3,
		"Rectum":  3,
		"Sigmoid": 3,
		"Bowel":   3,
		"Vagina":  3,
		"Uterus":  3,
		"Cervix":  8,
		"CTV-HR":  8,
		"CTV-IR":  8,
		"GTV":     10,
		"Default": 3,
	}
	cfg.Protocol.Aliases = map[string]string{
		"HRCTV":  "CTV-HR",
		"HR-CTV": "CTV-HR",
		"CTVHR":  "CTV-HR",
		"IRCTV":  "CTV-IR",
		"IR-CTV": "CTV-IR",
		"GTV-T":  "GTV",
		"GTVres": "GTV",
	}
	cfg.Protocol.Constraints = []ConstraintSpec{
		{Organ: "Bladder", Metric: "D2cc", Quantity: "EQD2", Direction: "max", Limit: 80, Warning: limit(75)},
		{Organ: "Rectum", Metric: "D2cc", Quantity: "EQD2", Direction: "max", Limit: 70, Warning: limit(65)},
		{Organ: "Sigmoid", Metric: "D2cc", Quantity: "EQD2", Direction: "max", Limit: 70, Warning: limit(65)},
		{Organ: "Bowel", Metric: "D2cc", Quantity: "EQD2", Direction: "max", Limit: 65, Warning: limit(60)},
		{Organ: "CTV-HR", Metric: "D90", Quantity: "EQD2", Direction: "min", Limit: 85, Warning: limit(90)},
		{Organ: "CTV-HR", Metric: "D98", Quantity: "EQD2", Direction: "min", Limit: 75},
		{Organ: "GTV", Metric: "D98", Quantity: "EQD2", Direction: "min", Limit: 95},
	}
	cfg.Protocol.Points = []PointSpec{
		{Name: "RV Point", Keywords: []string{"rv"}, MaxEQD2: limit(65)},
		{Name: "Point A", Keywords: []string{"pt a", "point a"}, ReportOnly: true},
		{Name: "Prescription Point", Keywords: []string{"tip", "shoulder", "3cm", "3.5cm", "2cm", "2.5cm"}, ReportOnly: true},
	}

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"
	cfg.Output.Format = "table"
	cfg.Output.SlicesDir = "slices"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A file that lists its own tables replaces the defaults rather than merging into them
	cfg.Protocol.AlphaBeta = nil
	cfg.Protocol.Aliases = nil
	defaults := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if cfg.Protocol.AlphaBeta == nil {
		cfg.Protocol.AlphaBeta = defaults.Protocol.AlphaBeta
	}
	if cfg.Protocol.Aliases == nil {
		cfg.Protocol.Aliases = defaults.Protocol.Aliases
	}
	if cfg.Processing.NumWorkers <= 0 {
		cfg.Processing.NumWorkers = runtime.NumCPU()
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	if err := SaveConfig(cfg, configPath); err != nil {
		return err
	}

	f, err := os.OpenFile(configPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(externalBeamExample); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// externalBeamExample is appended to generated config files. No external
// beam is assumed unless the course is configured.
const externalBeamExample = `
# External-beam course delivered alongside brachytherapy, for example
# 45 Gy in 25 fractions:
# externalBeam:
#   fractions: 25
#   dosePerFraction: 1.8
`
