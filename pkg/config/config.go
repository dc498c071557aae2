// Package config provides configuration loading and management for roistats.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input volumes
	Input struct {
		// Image is the NRRD scan whose intensities are measured
		Image string `yaml:"image"`

		// Mask is the NRRD label volume selecting the region of interest
		Mask string `yaml:"mask"`
	} `yaml:"input"`

	// Feature selection, by feature name
	Features struct {
		FirstOrder []string `yaml:"firstOrder"`
		Shape      []string `yaml:"shape"`
	} `yaml:"features"`

	// Slice comparison rendering
	Visualization struct {
		// Enabled turns the comparison image on
		Enabled bool `yaml:"enabled"`

		// Slice is the axial slice to render
		Slice int `yaml:"slice"`

		// Output is the image path; .png or .jpg
		Output string `yaml:"output"`

		// Scale is the integer upscaling factor of each panel
		Scale int `yaml:"scale"`

		ImageTitle string `yaml:"imageTitle"`
		MaskTitle  string `yaml:"maskTitle"`
	} `yaml:"visualization"`

	// Direct statistics
	Statistics struct {
		// Extended adds the bounding box, physical extents and region volume
		Extended bool `yaml:"extended"`
	} `yaml:"statistics"`

	// Output parameters
	Output struct {
		// CropOutput, when set, receives the bounding-box crop of the image as NRRD
		CropOutput string `yaml:"cropOutput"`

		// MeshOutput, when set, receives the region surface as binary STL
		MeshOutput string `yaml:"meshOutput"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Console selects human readable output instead of JSON
		Console bool `yaml:"console"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Image = "data/medical_image.nrrd"
	cfg.Input.Mask = "data/mask.nrrd"

	cfg.Features.FirstOrder = []string{"Mean", "StandardDeviation", "Median"}
	cfg.Features.Shape = []string{
		"Maximum2DDiameterColumn",
		"Maximum2DDiameterRow",
		"Maximum2DDiameterSlice",
		"MinorAxisLength",
		"MajorAxisLength",
		"MeshVolume",
		"VoxelVolume",
	}

	cfg.Visualization.Enabled = false
	cfg.Visualization.Slice = 174
	cfg.Visualization.Output = "comparison.png"
	cfg.Visualization.Scale = 2
	cfg.Visualization.ImageTitle = "Image"
	cfg.Visualization.MaskTitle = "Mask"

	cfg.Statistics.Extended = true

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true

	return cfg
}

// Validate checks values that the YAML decoder cannot
func (c *Config) Validate() error {
	if c.Input.Image == "" || c.Input.Mask == "" {
		return fmt.Errorf("input image and mask paths are required")
	}
	if c.Visualization.Slice < 0 {
		return fmt.Errorf("visualization slice must be non-negative, got %d", c.Visualization.Slice)
	}
	if c.Visualization.Scale < 1 {
		return fmt.Errorf("visualization scale must be at least 1, got %d", c.Visualization.Scale)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
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

	// Fields absent from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
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
	return SaveConfig(DefaultConfig(), configPath)
}
