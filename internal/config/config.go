// Package config loads whatif configuration from .whatif/config.yaml with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/whatif/internal/errors"
)

const (
	// WhatifDir is the workspace configuration directory.
	WhatifDir = ".whatif"
	// ConfigFileName is the config file name inside WhatifDir.
	ConfigFileName = "config.yaml"
	// ScenariosDirName holds the per-scenario store files.
	ScenariosDirName = "scenarios"
	// CatalogFileName is the catalog database file.
	CatalogFileName = "catalog.db"
)

// Duration wraps time.Duration so YAML configs can say "30s" or bare
// seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the whatif configuration.
type Config struct {
	// Completion service.
	CompletionEndpoint string   `yaml:"completion_endpoint"`
	CompletionModel    string   `yaml:"completion_model"`
	ClassifyTimeout    Duration `yaml:"classify_timeout"`
	GenerateTimeout    Duration `yaml:"generate_timeout"`

	// Catalog backend: "sqlite" (default) or "postgres".
	CatalogDialect string `yaml:"catalog_dialect"`
	CatalogDSN     string `yaml:"catalog_dsn"`

	// Downstream script triggered after each applied mutation; empty
	// disables the trigger. Globs select the files it produces.
	DownstreamScript string   `yaml:"downstream_script"`
	ProducedGlobs    []string `yaml:"produced_globs"`

	// API server bind address.
	ServerAddr string `yaml:"server_addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		CompletionEndpoint: "http://localhost:8080/v1/complete",
		CompletionModel:    "default",
		ClassifyTimeout:    Duration(30 * time.Second),
		GenerateTimeout:    Duration(60 * time.Second),
		CatalogDialect:     "sqlite",
		ServerAddr:         ":7070",
	}
}

// Load reads configuration for a workspace rooted at dir. A missing config
// file yields the defaults; a malformed one is an error. Environment
// variables (WHATIF_*) override file values.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, WhatifDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults apply.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ErrConfigInvalid(path, err.Error())
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ClassifyTimeout <= 0 {
		return errors.ErrConfigInvalid("classify_timeout", "must be positive")
	}
	if c.GenerateTimeout <= 0 {
		return errors.ErrConfigInvalid("generate_timeout", "must be positive")
	}
	switch c.CatalogDialect {
	case "", "sqlite", "postgres":
	default:
		return errors.ErrConfigInvalid("catalog_dialect",
			fmt.Sprintf("unknown dialect %q", c.CatalogDialect))
	}
	if c.CatalogDialect == "postgres" && c.CatalogDSN == "" {
		return errors.ErrConfigInvalid("catalog_dsn", "required for the postgres catalog")
	}
	return nil
}

// applyEnv overrides config fields from WHATIF_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WHATIF_COMPLETION_ENDPOINT"); v != "" {
		cfg.CompletionEndpoint = v
	}
	if v := os.Getenv("WHATIF_COMPLETION_MODEL"); v != "" {
		cfg.CompletionModel = v
	}
	if v := os.Getenv("WHATIF_SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv("WHATIF_CATALOG_DIALECT"); v != "" {
		cfg.CatalogDialect = v
	}
	if v := os.Getenv("WHATIF_CATALOG_DSN"); v != "" {
		cfg.CatalogDSN = v
	}
	if v := os.Getenv("WHATIF_CLASSIFY_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.ClassifyTimeout = Duration(d)
		} else {
			slog.Warn("ignoring invalid WHATIF_CLASSIFY_TIMEOUT", "value", v)
		}
	}
	if v := os.Getenv("WHATIF_GENERATE_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil {
			cfg.GenerateTimeout = Duration(d)
		} else {
			slog.Warn("ignoring invalid WHATIF_GENERATE_TIMEOUT", "value", v)
		}
	}
}

// parseDuration accepts either a Go duration string or bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}
