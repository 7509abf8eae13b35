package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunOptions holds the trajectory run configuration, loaded from YAML with
// flag overrides on top.
type RunOptions struct {
	Duration      float64 `yaml:"duration"`
	Samples       int     `yaml:"samples"`
	Seed          int64   `yaml:"seed"`
	Equilibrate   float64 `yaml:"equilibrate"`
	StatusReports int     `yaml:"status_reports"`

	OutputDir       string `yaml:"output_dir"`
	GdatFile        string `yaml:"gdat_file"`
	SpeciesFile     string `yaml:"species_file"`
	FiringLogFile   string `yaml:"firing_log_file"`
	DumpIndexTables bool   `yaml:"dump_index_tables"`

	LogLevel string `yaml:"log_level"`
}

// defaultRunOptions returns the baseline configuration.
func defaultRunOptions() RunOptions {
	return RunOptions{
		Duration: 10.0,
		Samples:  100,
		GdatFile: "observables.gdat",
		LogLevel: "info",
	}
}

// loadRunOptions reads the YAML run file, if given, over the defaults.
func loadRunOptions(path string) (RunOptions, error) {
	opts := defaultRunOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading run file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing run YAML: %w", err)
	}
	if opts.Duration <= 0 {
		return opts, fmt.Errorf("run option duration must be positive")
	}
	if opts.Samples < 0 {
		return opts, fmt.Errorf("run option samples must not be negative")
	}
	return opts, nil
}
