package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stochkit/rulesim/internal/rulesim"
)

func main() {
	var (
		modelFile = flag.String("model-file", "", "path to model JSON file (required)")
		runFile   = flag.String("run-file", "", "path to run options YAML file (optional)")
		duration  = flag.Float64("duration", 0, "simulated duration (overrides run file)")
		samples   = flag.Int("samples", 0, "number of sample intervals (overrides run file)")
		seed      = flag.Int64("seed", 0, "random seed (overrides run file; 0 = time-based)")
		outputDir = flag.String("output-dir", "", "output directory (overrides run file)")
		logLevel  = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Parse()

	if *modelFile == "" {
		fmt.Fprintf(os.Stderr, "error: --model-file is required\n")
		flag.Usage()
		os.Exit(1)
	}

	opts, err := loadRunOptions(*runFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading run options: %v\n", err)
		os.Exit(1)
	}
	if *duration > 0 {
		opts.Duration = *duration
	}
	if *samples > 0 {
		opts.Samples = *samples
	}
	if *seed != 0 {
		opts.Seed = *seed
	}
	if *outputDir != "" {
		opts.OutputDir = *outputDir
	}
	if *logLevel != "" {
		opts.LogLevel = *logLevel
	}

	logger, flush, err := newZapLogger(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	cfg, sys, err := loadModelFromFile(*modelFile, opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading model: %v\n", err)
		os.Exit(1)
	}

	if err := run(sys, cfg, opts, logger); err != nil {
		var verr *rulesim.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "model error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "simulation error: %v\n", err)
		os.Exit(2)
	}
}

func loadModelFromFile(path string, opts RunOptions, logger rulesim.Logger) (rulesim.ModelConfig, *rulesim.System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rulesim.ModelConfig{}, nil, fmt.Errorf("reading model file: %w", err)
	}

	var cfg rulesim.ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return rulesim.ModelConfig{}, nil, fmt.Errorf("parsing model JSON: %w", err)
	}

	sysOpts := []rulesim.SystemOption{rulesim.WithLogger(logger)}
	if opts.Seed != 0 {
		sysOpts = append(sysOpts, rulesim.WithSeed(opts.Seed))
	}
	sys, err := rulesim.BuildSystemFromConfig(cfg, sysOpts...)
	if err != nil {
		return rulesim.ModelConfig{}, nil, fmt.Errorf("building model: %w", err)
	}
	return cfg, sys, nil
}

func run(sys *rulesim.System, cfg rulesim.ModelConfig, opts RunOptions, logger rulesim.Logger) error {
	if err := sys.PrepareForSimulation(); err != nil {
		return err
	}

	ctx := context.Background()

	var gdat *os.File
	observers := []rulesim.SampleObserver{}
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		f, err := os.Create(filepath.Join(opts.OutputDir, opts.GdatFile))
		if err != nil {
			return fmt.Errorf("creating trace file: %w", err)
		}
		gdat = f
		defer gdat.Close()
		observers = append(observers, rulesim.NewGdatWriter(gdat, sys).Observer())
	}

	var firingLog *rulesim.FiringLog
	if opts.OutputDir != "" && opts.FiringLogFile != "" {
		firingLog = rulesim.NewFiringLog()
		sys.RegisterFiringObserver(firingLog.Observer())
	}

	if opts.Equilibrate > 0 {
		logger.Infof("equilibrating model %q for %g time units", cfg.Name, opts.Equilibrate)
		if err := sys.Equilibrate(ctx, opts.Equilibrate, opts.StatusReports); err != nil {
			return err
		}
	}

	logger.Infof("simulating model %q: duration=%g samples=%d", cfg.Name, opts.Duration, opts.Samples)
	final, err := sys.Sim(ctx, opts.Duration, opts.Samples, observers...)
	if err != nil {
		return err
	}

	if opts.OutputDir != "" {
		if opts.SpeciesFile != "" {
			if err := rulesim.SaveSpecies(filepath.Join(opts.OutputDir, opts.SpeciesFile), sys); err != nil {
				return err
			}
		}
		if firingLog != nil {
			f, err := os.Create(filepath.Join(opts.OutputDir, opts.FiringLogFile))
			if err != nil {
				return fmt.Errorf("creating firing log: %w", err)
			}
			defer f.Close()
			if err := firingLog.WriteCSV(f); err != nil {
				return err
			}
		}
		if opts.DumpIndexTables {
			f, err := os.Create(filepath.Join(opts.OutputDir, "index_tables.txt"))
			if err != nil {
				return fmt.Errorf("creating index tables: %w", err)
			}
			defer f.Close()
			if err := rulesim.DumpMoleculeTypes(f, sys); err != nil {
				return err
			}
			if err := rulesim.DumpRules(f, sys); err != nil {
				return err
			}
		}
	}

	printSummary(cfg.Name, final, sys)
	return nil
}

func printSummary(modelName string, finalTime float64, sys *rulesim.System) {
	fmt.Printf("Simulation finished (model=%s, t=%g, events=%d, null=%d)\n",
		modelName, finalTime, sys.EventCount(), sys.NullEventCount())
	fmt.Println("Observable values:")
	for _, o := range sys.Observables() {
		fmt.Printf("  %s: %g\n", o.Name(), o.Value())
	}
}
