// Package config loads the run configuration from a YAML file, filling
// in defaults for anything the file omits.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/gyeh/rx-pathways/internal/model"
)

// Config is the full run configuration.
type Config struct {
	// Postgres is the connection string for the tree store and the coded
	// primary-care events the indication matcher consults.
	Postgres string `yaml:"postgres"`

	// MinPatients is the per-node disclosure threshold applied offline.
	MinPatients int `yaml:"min_patients"`

	// Workers bounds concurrent tree builds.
	Workers int `yaml:"workers"`

	// Matcher tuning.
	MatchBatchSize   int `yaml:"match_batch_size"`
	MatchConcurrency int `yaml:"match_concurrency"`

	// Reference table paths (CSV, optionally .gz).
	DrugGroupings string `yaml:"drug_groupings"`
	Conditions    string `yaml:"conditions"`

	// Windows overrides the default filter-window set.
	Windows []WindowConfig `yaml:"windows"`

	// S3 snapshot target; empty bucket disables upload.
	S3 S3Config `yaml:"s3"`
}

// WindowConfig is one filter window in the YAML file.
type WindowConfig struct {
	Name      string `yaml:"name"`
	Initiated int    `yaml:"initiated_within_months"`
	Active    int    `yaml:"active_within_months"`
}

// S3Config locates the snapshot bucket.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Postgres:         "postgres://localhost:5432/rx_pathways?sslmode=disable",
		MinPatients:      5,
		Workers:          runtime.NumCPU(),
		MatchBatchSize:   500,
		MatchConcurrency: 4,
		S3:               S3Config{Region: "us-east-1", Prefix: "trees"},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MinPatients < 1 {
		return fmt.Errorf("min_patients must be >= 1, got %d", c.MinPatients)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	seen := map[string]struct{}{}
	for _, w := range c.Windows {
		if w.Name == "" {
			return fmt.Errorf("window with empty name")
		}
		if _, ok := seen[w.Name]; ok {
			return fmt.Errorf("duplicate window %q", w.Name)
		}
		seen[w.Name] = struct{}{}
		if w.Initiated < 0 || w.Active < 0 {
			return fmt.Errorf("window %q has negative bound", w.Name)
		}
	}
	return nil
}

// FilterWindows returns the configured windows, or the default set when
// the file names none.
func (c *Config) FilterWindows() []model.FilterWindow {
	if len(c.Windows) == 0 {
		return model.DefaultWindows()
	}
	windows := make([]model.FilterWindow, len(c.Windows))
	for i, w := range c.Windows {
		windows[i] = model.FilterWindow{
			Name:                  w.Name,
			InitiatedWithinMonths: w.Initiated,
			ActiveWithinMonths:    w.Active,
		}
	}
	return windows
}
