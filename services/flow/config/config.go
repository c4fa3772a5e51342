// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads flow process settings from YAML and the environment
// and opens the configured cache store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/services/flow/telemetry"
)

// Backend names for CacheConfig.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendGCS    = "gcs"
)

// Environment variables that override file settings.
const (
	EnvCacheDir     = "FLOW_CACHE_DIR"
	EnvCacheBackend = "FLOW_CACHE_BACKEND"
	EnvWorkers      = "FLOW_WORKERS"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Config is the complete process configuration.
type Config struct {
	Cache CacheConfig `yaml:"cache"`

	// Workers bounds concurrently running producing functions.
	// Zero means one per CPU.
	Workers int `yaml:"workers" validate:"gte=0,lte=4096"`

	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// CacheConfig selects and configures the persistent tier.
type CacheConfig struct {
	// Backend is one of memory, file, badger or gcs.
	Backend string `yaml:"backend" validate:"required,oneof=memory file badger gcs"`

	// Dir is the cache directory for the file and badger backends.
	// A leading "~" expands to the home directory.
	Dir string `yaml:"dir" validate:"required_if=Backend file,required_if=Backend badger"`

	// Bucket and Prefix locate records for the gcs backend.
	Bucket string `yaml:"bucket" validate:"required_if=Backend gcs"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key for gcs. Empty uses
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// MemoryMaxEntries bounds the memory tier. Zero means unbounded.
	MemoryMaxEntries int `yaml:"memory_max_entries" validate:"gte=0"`

	// SyncWrites fsyncs every record before it becomes visible.
	SyncWrites bool `yaml:"sync_writes"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Backend:    BackendFile,
			Dir:        "~/.aleutian/flow/cache",
			SyncWrites: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from FLOW_CACHE_DIR, FLOW_CACHE_BACKEND and
// FLOW_WORKERS when they are set.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv(EnvCacheBackend); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvWorkers, v)
		}
		cfg.Workers = n
	}
	return nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Save writes cfg to path as YAML, creating the directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath replaces a leading "~" with the home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
