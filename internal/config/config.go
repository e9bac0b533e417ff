// Package config provides environment- and YAML-driven configuration
// loading and validation for the local storage emulator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a storage root.
type Config struct {
	// StorageDir is the directory under which the dataset, key_value_store,
	// and request_queue families are created. Defaults to "./apify_storage".
	// Overridden by the APIFY_LOCAL_STORAGE_DIR environment variable.
	StorageDir string `yaml:"storage_dir"`

	// EnableWalMode selects WAL journaling for request-queue databases when
	// true (the default), or the rollback journal when false. Overridden by
	// the APIFY_LOCAL_STORAGE_ENABLE_WAL_MODE environment variable.
	EnableWalMode bool `yaml:"enable_wal_mode"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const (
	envStorageDir = "APIFY_LOCAL_STORAGE_DIR"
	envWalMode    = "APIFY_LOCAL_STORAGE_ENABLE_WAL_MODE"

	defaultStorageDir = "./apify_storage"
)

// Default returns a Config populated with library defaults, before any
// environment or file overrides are applied.
func Default() Config {
	return Config{
		StorageDir:    defaultStorageDir,
		EnableWalMode: true,
		LogLevel:      "info",
	}
}

// Load builds a Config starting from Default(), optionally layering in a
// YAML file at path (path == "" skips this step), then applying environment
// variable overrides, and finally validating the result. Environment
// variables always win over the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnv overlays the two documented environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv(envStorageDir); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv(envWalMode); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableWalMode = b
		}
	}
}

// validate checks that all fields hold legal values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.StorageDir == "" {
		errs = append(errs, errors.New("storage_dir must not be empty"))
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
