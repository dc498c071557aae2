package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"roistats/internal/logging"
	"roistats/pkg/analysis"
	"roistats/pkg/config"
	"roistats/pkg/report"
	"roistats/pkg/visualization"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "roistats: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("roistats", flag.ContinueOnError)
	flags.SetOutput(stderr)

	configPath := flags.String("config", "config.yaml", "YAML configuration file (defaults apply when missing)")
	imagePath := flags.String("image", "", "NRRD image, overrides the config")
	maskPath := flags.String("mask", "", "NRRD mask, overrides the config")
	slice := flags.Int("slice", 0, "Axial slice for the comparison image, overrides the config")
	compare := flags.String("compare", "", "Write the image/mask slice comparison to this PNG or JPEG file")
	crop := flags.String("crop", "", "Write the region's bounding-box crop of the image to this NRRD file")
	meshOut := flags.String("mesh", "", "Write the region's surface mesh to this binary STL file")
	slicesDir := flags.String("slices-dir", "", "Save every slice of the image along all axes to this directory")
	basic := flags.Bool("basic", false, "Report only mean, standard deviation and median without radiomics")
	logLevel := flags.String("log-level", "", "Log level: debug, info, warn, error (overrides the config)")
	writeConfig := flags.String("write-config", "", "Write the default configuration to this path and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", *writeConfig)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// Explicit flags take precedence over the config file
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "image":
			cfg.Input.Image = *imagePath
		case "mask":
			cfg.Input.Mask = *maskPath
		case "slice":
			cfg.Visualization.Slice = *slice
		case "compare":
			cfg.Visualization.Enabled = *compare != ""
			cfg.Visualization.Output = *compare
		case "crop":
			cfg.Output.CropOutput = *crop
		case "mesh":
			cfg.Output.MeshOutput = *meshOut
		case "basic":
			cfg.Statistics.Extended = !*basic
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	var logger logging.Logger
	if cfg.Logging.Console {
		logger = logging.NewConsoleLogger(stderr, level)
	} else {
		logger = logging.NewZerolog(stderr, level)
	}

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "VOLUMETRIC REGION OF INTEREST STATISTICS")
	fmt.Fprintf(stdout, "Image: %s\n", cfg.Input.Image)
	fmt.Fprintf(stdout, "Mask:  %s\n", cfg.Input.Mask)
	fmt.Fprintln(stdout, "================================")

	analyzer := analysis.NewAnalyzer(analysis.ParamsFromConfig(cfg), logger)

	startTime := time.Now()
	if err := analyzer.Process(ctx); err != nil {
		logger.Error("cli", err, map[string]interface{}{"image": cfg.Input.Image, "mask": cfg.Input.Mask})
		return err
	}
	processingTime := time.Since(startTime)

	results := analyzer.Results()
	if results.FirstOrder != nil {
		if err := report.Fprint(stdout, "Calculated first order features:", results.FirstOrder); err != nil {
			return err
		}
	}
	if results.Shape != nil {
		if err := report.Fprint(stdout, "Calculated shape features:", results.Shape); err != nil {
			return err
		}
	}
	if err := report.Fprint(stdout, "Calculated features without radiomics:", results.Statistics); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nAnalysis completed in %.2f seconds\n", processingTime.Seconds())
	if cfg.Visualization.Enabled {
		fmt.Fprintf(stdout, "Slice comparison saved to: %s\n", cfg.Visualization.Output)
	}
	if cfg.Output.CropOutput != "" {
		fmt.Fprintf(stdout, "Region crop saved to: %s\n", cfg.Output.CropOutput)
	}
	if cfg.Output.MeshOutput != "" {
		fmt.Fprintf(stdout, "Region surface saved to: %s\n", cfg.Output.MeshOutput)
	}

	if *slicesDir != "" {
		viewer := visualization.NewViewer(analyzer.Image())
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Fprintf(stdout, "Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				logger.Warning("cli", "Failed to save slices", map[string]interface{}{"axis": axis, "error": err.Error()})
			}
		}
	}

	return nil
}
