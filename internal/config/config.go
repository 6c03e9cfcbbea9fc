// Package config loads the converter configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full converter configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Output    OutputConfig    `yaml:"output"`
	Selection SelectionConfig `yaml:"selection"`
	Parquet   ParquetConfig   `yaml:"parquet"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	Verbose bool `yaml:"verbose"`
	Workers int  `yaml:"workers"`
}

// SourceConfig locates the result archive and its optional sidecars.
type SourceConfig struct {
	Path string `yaml:"path"`

	// MeshOverride replaces the archive's coordinate arrays with the ones
	// in the given sidecar file.
	MeshOverride string `yaml:"mesh_override"`

	// Permutation is a sidecar file with an explicit spatial permutation
	// (1-based point indices).
	Permutation string `yaml:"permutation"`
}

// OutputConfig configures the matrix store destination.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Backend  string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Compress bool   `yaml:"compress"`

	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

// SelectionConfig chooses the timesteps to materialize. An empty Timesteps
// list selects every timestep; Stride applies to contiguous selections
// only.
type SelectionConfig struct {
	Timesteps []int `yaml:"timesteps"`
	Stride    int   `yaml:"stride"`
}

// ParquetConfig configures the analytic exports written next to the store.
type ParquetConfig struct {
	Enabled bool  `yaml:"enabled"`
	Probes  []int `yaml:"probes"` // 1-based point indices for the probe time-series export
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Output: OutputConfig{
			Backend: "local",
			Prefix:  "hydromat/",
		},
		Selection: SelectionConfig{Stride: 1},
		Parquet:   ParquetConfig{Enabled: true},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Address: ":9090"},
		Verbose:   true,
		Workers:   1,
	}
}

// Load reads the configuration file (when path is non-empty) over the
// defaults and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets deployment environments override file settings.
func applyEnv(cfg *Config) {
	cfg.Source.Path = getenvDefault("HYDROMAT_SOURCE", cfg.Source.Path)
	cfg.Output.Dir = getenvDefault("HYDROMAT_OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.Backend = getenvDefault("HYDROMAT_OUTPUT_BACKEND", cfg.Output.Backend)
	cfg.Output.Bucket = getenvDefault("HYDROMAT_OUTPUT_BUCKET", cfg.Output.Bucket)
	cfg.Logging.Level = getenvDefault("HYDROMAT_LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("HYDROMAT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("HYDROMAT_STRIDE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Selection.Stride = n
		}
	}
}

// Validate rejects configurations that cannot start a run. Validation runs
// before anything is written.
func (c Config) Validate() error {
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch c.Output.Backend {
	case "", "local", "gcs", "s3":
	default:
		return fmt.Errorf("unknown output backend %q", c.Output.Backend)
	}
	if c.Selection.Stride < 1 {
		return fmt.Errorf("selection.stride must be positive, got %d", c.Selection.Stride)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
