// Package config handles genbound configuration files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/genbound/internal/dataset"
	"github.com/born-ml/genbound/internal/logging"
	"github.com/born-ml/genbound/internal/loss"
	"github.com/born-ml/genbound/internal/measures"
	"github.com/born-ml/genbound/internal/parallel"
	"github.com/born-ml/genbound/internal/paths"
	"github.com/born-ml/genbound/internal/tensor"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid value")

// Config is the run configuration.
type Config struct {
	Eps         float64  `yaml:"eps"`
	Alpha       float64  `yaml:"alpha"`
	Iterations  int64    `yaml:"iterations"` // < 0 runs until stopped
	Seed        uint64   `yaml:"seed"`
	Device      string   `yaml:"device"` // auto, cpu or webgpu
	Measures    []string `yaml:"measures"`
	Workers     int      `yaml:"workers"`
	MaxPaths    int      `yaml:"max_paths"` // 0 = unlimited
	StrictFanIn bool     `yaml:"strict_fan_in"`

	// Dataset and Criterion override the checkpoint's training context.
	Dataset   DatasetOverride `yaml:"dataset,omitempty"`
	Criterion string          `yaml:"criterion,omitempty"`

	Log logging.Config `yaml:"log"`
}

// DatasetOverride replaces individual fields of the checkpoint's dataset
// configuration. Unset fields keep the checkpoint value.
type DatasetOverride struct {
	Kind         string `yaml:"kind,omitempty"`
	Path         string `yaml:"path,omitempty"`
	Train        *bool  `yaml:"train,omitempty"`
	BatchSize    *int   `yaml:"batch_size,omitempty"`
	SubsetSize   *int   `yaml:"subset_size,omitempty"`
	RandomLabels *bool  `yaml:"random_labels,omitempty"`
}

// Apply returns base with the set fields replaced.
func (o DatasetOverride) Apply(base dataset.Config) dataset.Config {
	if o.Kind != "" {
		base.Kind = dataset.Kind(o.Kind)
	}
	if o.Path != "" {
		base.Path = o.Path
	}
	if o.Train != nil {
		base.Train = *o.Train
	}
	if o.BatchSize != nil {
		base.BatchSize = *o.BatchSize
	}
	if o.SubsetSize != nil {
		base.SubsetSize = *o.SubsetSize
	}
	if o.RandomLabels != nil {
		base.RandomLabels = *o.RandomLabels
	}
	return base
}

// Default returns the default configuration.
func Default() *Config {
	names := measures.All()
	ms := make([]string, len(names))
	for i, n := range names {
		ms[i] = string(n)
	}
	return &Config{
		Eps:        0.05,
		Alpha:      5e-4,
		Iterations: 100000,
		Device:     "auto",
		Measures:   ms,
		Workers:    parallel.DefaultWorkers,
		Log:        logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default if not found.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every value, resolving measure names, the dataset kind
// and the criterion against their registries.
func (c *Config) Validate() error {
	if c.Eps < 0 || c.Eps > 1 {
		return fmt.Errorf("%w: eps %v outside [0, 1]", ErrInvalid, c.Eps)
	}
	if !(c.Alpha > 0) {
		return fmt.Errorf("%w: alpha %v must be positive", ErrInvalid, c.Alpha)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.MaxPaths < 0 {
		return fmt.Errorf("%w: max_paths %d", ErrInvalid, c.MaxPaths)
	}
	if d := strings.ToLower(c.Device); d != "" && d != "auto" {
		if _, err := tensor.ParseDevice(d); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if _, err := c.MeasureNames(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Dataset.Kind != "" {
		if _, err := dataset.Lookup(dataset.Kind(c.Dataset.Kind)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if c.Dataset.BatchSize != nil && *c.Dataset.BatchSize < 0 {
		return fmt.Errorf("%w: dataset.batch_size %d", ErrInvalid, *c.Dataset.BatchSize)
	}
	if c.Criterion != "" {
		if _, err := loss.Lookup(c.Criterion); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// MeasureNames resolves Measures. An empty list selects every measure.
func (c *Config) MeasureNames() ([]measures.Name, error) {
	if len(c.Measures) == 0 {
		return measures.All(), nil
	}
	names := make([]measures.Name, 0, len(c.Measures))
	seen := make(map[measures.Name]bool, len(c.Measures))
	for _, s := range c.Measures {
		n, err := measures.ParseName(s)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names, nil
}

// MeasuresConfig returns the runner configuration. Validate must have
// succeeded.
func (c *Config) MeasuresConfig() measures.Config {
	names, _ := c.MeasureNames()
	return measures.Config{
		Measures:   names,
		Eps:        c.Eps,
		Alpha:      c.Alpha,
		Iterations: c.Iterations,
		Seed:       c.Seed,
	}
}

// EnumeratorOptions returns the path enumerator options.
func (c *Config) EnumeratorOptions(logger *slog.Logger) paths.EnumeratorOptions {
	return paths.EnumeratorOptions{
		Workers:     c.Workers,
		MaxPaths:    c.MaxPaths,
		StrictFanIn: c.StrictFanIn,
		Logger:      logger,
	}
}
