// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/spfgate/internal/uerr"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".spfgate"
	defaultConfigFile = "gateway.yaml"
	bootConfigVersion = "1"
)

// BootConfig is the `.spfgate/gateway.yaml` bootstrap file that
// init-config writes. It is distinct from the store-backed policy
// (internal/config): no command calls LoadBootConfig, and bootstrap
// does not seed the CONFIG store from this file — see SPEC_FULL.md §A.3.
type BootConfig struct {
	Version string `yaml:"version"`
	Mode    string `yaml:"mode"` // "soft" | "max"

	Thresholds struct {
		T1 uint64 `yaml:"t1"`
		T2 uint64 `yaml:"t2"`
		T3 uint64 `yaml:"t3"`
	} `yaml:"thresholds"`

	MaxWriteSize          int64 `yaml:"max_write_size"`
	RequireReadBeforeEdit bool  `yaml:"require_read_before_edit"`
}

// DefaultBootConfig returns the compiled-in bootstrap defaults.
func DefaultBootConfig() *BootConfig {
	c := &BootConfig{
		Version:               bootConfigVersion,
		Mode:                  getEnv("SPFGATE_MODE", "soft"),
		MaxWriteSize:          10 * 1024 * 1024,
		RequireReadBeforeEdit: true,
	}
	c.Thresholds.T1 = 50
	c.Thresholds.T2 = 500
	c.Thresholds.T3 = 5000
	return c
}

// LoadBootConfig loads `.spfgate/gateway.yaml` from configPath, or
// finds it by walking parent directories, applying environment
// overrides afterward.
func LoadBootConfig(configPath string) (*BootConfig, error) {
	if configPath == "" {
		configPath = os.Getenv("SPFGATE_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findBootConfigFile()
		if err != nil {
			return DefaultBootConfig(), nil
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from user config or discovery
	if err != nil {
		return nil, uerr.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	cfg := DefaultBootConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, uerr.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'spfgate init-config' to recreate", configPath),
			err,
		)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// SaveBootConfig writes cfg to configPath as YAML, creating the parent
// directory if needed.
func SaveBootConfig(cfg *BootConfig, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return uerr.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug; please report it with your configuration details",
			err,
		)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return uerr.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", dir),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return uerr.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	return nil
}

// BootConfigPath returns <dir>/.spfgate/gateway.yaml.
func BootConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

func findBootConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", uerr.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		)
	}
	for {
		p := BootConfigPath(dir)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", uerr.NewConfigError(
		"Configuration not found",
		"No .spfgate/gateway.yaml file found in current directory or any parent directory",
		"Run 'spfgate init-config' to create a new configuration",
		nil,
	)
}

func (c *BootConfig) applyEnvOverrides() {
	if mode := os.Getenv("SPFGATE_MODE"); mode != "" {
		c.Mode = mode
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
