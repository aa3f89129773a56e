// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/heliolapse/heliolapse/internal/log"
)

// Loader resolves the effective configuration with precedence
// ENV > file > defaults.
type Loader struct {
	filePath string
}

// NewLoader creates a loader. filePath may be empty; the HELIOLAPSE_CONFIG
// environment variable is consulted as a fallback.
func NewLoader(filePath string) *Loader {
	if filePath == "" {
		filePath = os.Getenv("HELIOLAPSE_CONFIG")
	}
	return &Loader{filePath: filePath}
}

// Load builds and validates the effective configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.filePath != "" {
		if err := applyFile(&cfg, l.filePath); err != nil {
			return AppConfig{}, fmt.Errorf("config file %s: %w", l.filePath, err)
		}
		logger := log.WithComponent("config")
		logger.Info().
			Str("path", l.filePath).
			Msg("loaded configuration file")
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays a YAML config file onto cfg. A missing explicit file is
// an error; unknown keys are rejected to catch typos early.
func applyFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}
