// Manages the docmap.yaml tool configuration.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maruel/docmap/internal/store/backends"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the docmap tool.
// Loaded from docmap.yaml; defaults are used when the file is missing.
type Config struct {
	// Store is the data source name of the document store, e.g. "jsonl:data".
	Store string `yaml:"store"`

	// Schemas is the path to the schema description file.
	Schemas string `yaml:"schemas"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr serves Prometheus metrics when not empty.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// Watch reloads JSONL collections modified by other processes.
	Watch bool `yaml:"watch,omitempty"`

	// WatchInterval coalesces file change notifications.
	WatchInterval time.Duration `yaml:"watch_interval,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store:         "jsonl:data",
		Schemas:       "schemas.yaml",
		LogLevel:      "info",
		WatchInterval: time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := backends.Check(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Schemas == "" {
		return errors.New("schemas is required")
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.WatchInterval < 0 {
		return errors.New("watch_interval must be non-negative")
	}
	if c.Watch && c.WatchInterval == 0 {
		return errors.New("watch_interval is required when watch is enabled")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return l, nil
}

// Load loads the configuration from path.
// Missing files yield the defaults; the file is not created.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is provided by the CLI user
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
