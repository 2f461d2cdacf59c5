// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the YAML configuration consumed by cmd/keystored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/automatethethings/keystore-core/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the complete keystored configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig controls where blobs and master-key envelopes live.
type StorageConfig struct {
	// WorkingDir hosts the factory-reset sentinel file and, when
	// Backend is "file", the blob root.
	WorkingDir string `yaml:"working_dir"`
	// Backend selects the blobstore.Store backing store: "file" or
	// "memory".
	Backend string `yaml:"backend"`
}

// PolicyConfig carries the tunables spec.md leaves as constants but a
// real deployment wants to adjust: operation pool size, the
// ID-rotation window, the reserved system app_id, and the uid/user_id
// split stride.
type PolicyConfig struct {
	MaxOperations    int           `yaml:"max_operations"`
	IDRotationPeriod time.Duration `yaml:"id_rotation_period"`
	SystemAppID      int32         `yaml:"system_app_id"`
	UserIDStride     int32         `yaml:"user_id_stride"`
}

// LoggingConfig controls pkg/logging.Logger verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls whether Prometheus counters/histograms are
// registered. keystored always exposes them on the default registry;
// disabling just skips the metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration keystored starts from before a file
// or environment overrides are applied.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{WorkingDir: ".", Backend: "file"},
		Policy: PolicyConfig{
			MaxOperations:    15,
			IDRotationPeriod: 30 * 24 * time.Hour,
			SystemAppID:      1000,
			UserIDStride:     types.UserIDStride,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads path as YAML over Default(), applies KEYSTORED_* environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("KEYSTORED_WORKING_DIR"); dir != "" {
		cfg.Storage.WorkingDir = dir
	}
	if backend := os.Getenv("KEYSTORED_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if level := os.Getenv("KEYSTORED_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if maxOps := os.Getenv("KEYSTORED_MAX_OPERATIONS"); maxOps != "" {
		if n, err := strconv.Atoi(maxOps); err == nil && n > 0 {
			cfg.Policy.MaxOperations = n
		}
	}
}

// Validate checks that Config describes a usable deployment.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "file", "memory":
	default:
		return fmt.Errorf("storage backend must be \"file\" or \"memory\", got %q", c.Storage.Backend)
	}
	if strings.ToLower(c.Storage.Backend) == "file" && c.Storage.WorkingDir == "" {
		return fmt.Errorf("storage working_dir is required for the file backend")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Policy.MaxOperations <= 0 {
		return fmt.Errorf("policy max_operations must be positive, got %d", c.Policy.MaxOperations)
	}
	if c.Policy.IDRotationPeriod <= 0 {
		return fmt.Errorf("policy id_rotation_period must be positive, got %s", c.Policy.IDRotationPeriod)
	}
	if c.Policy.UserIDStride != types.UserIDStride {
		return fmt.Errorf("policy user_id_stride must equal %d, the stride pkg/types.UID assumes when splitting a uid into (user_id, app_id)", types.UserIDStride)
	}

	return nil
}
