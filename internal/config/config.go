// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and persists Stevedore's configuration. Precedence,
// lowest to highest: built-in defaults, stevedore.yaml (user config dir,
// system dir, or current directory), STEVEDORE_* environment variables,
// command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the application configuration as unmarshaled by viper.
type Config struct {
	Hold     HoldConfig     `mapstructure:"hold" yaml:"hold"`
	Fetch    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Language string         `mapstructure:"language" yaml:"language"`
}

// HoldConfig locates the project-local dependency hold. Dir is the
// package-home analog: relocating it into the project tree is what makes
// builds reproducible and portable.
type HoldConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// FetchConfig controls how dependency snapshots are retrieved.
type FetchConfig struct {
	// GitCLI delegates fetching to the git binary so the user's ssh-agent,
	// ~/.ssh/config and credential helpers are honored. Disabling it selects
	// the built-in fetcher, which cannot authenticate to private remotes.
	GitCLI         bool `mapstructure:"git_cli" yaml:"git_cli"`
	Workers        int  `mapstructure:"workers" yaml:"workers"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// DatabaseConfig selects the index backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// Defaults returns the built-in configuration defaults. The database DSN
// defaults to empty and is derived from the effective hold dir, so that
// overriding hold.dir moves the index along with the archives.
func Defaults() map[string]any {
	return map[string]any{
		"hold.dir":              ".stevedore",
		"fetch.git_cli":         true,
		"fetch.workers":         4,
		"fetch.timeout_seconds": 300,
		"database.type":         "sqlite",
		"database.dsn":          "",
		"language":              "en",
	}
}

// IndexDSN resolves the index database DSN. An explicit dsn wins; the
// sqlite default lives inside the hold next to the archives.
func (c Config) IndexDSN() string {
	if c.Database.Dsn != "" {
		return c.Database.Dsn
	}
	return filepath.Join(c.Hold.Dir, "index.db")
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Stevedore")
		default: // Linux, macOS, etc.
			configDir = "/etc/stevedore"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "stevedore")
	}

	return filepath.Join(configDir, "stevedore.yaml"), nil
}

// LoadConfig merges defaults, config files, environment and flags into T.
// An explicit config file path (from --config) has the highest file-level
// precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("stevedore")
	v.SetConfigType("yaml")

	// 3. Add explicit config file path if provided via --config flag.
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	// 4. Add standard config locations
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for stevedore.yaml in current dir

	// 5. Read in the primary config file. A missing file is reported to the
	// caller only after the rest of the merge completes, so the returned
	// config is still fully usable (defaults, project file, env, flags) and
	// the caller can decide to persist it.
	readErr := v.ReadInConfig()
	if readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			return c, readErr
		}
	}

	// 6. Merge a `.stevedore.yaml` in the current directory when present, so
	// projects can pin settings next to the manifest.
	mergeProjectConfig(v)

	// 7. Read from environment variables (STEVEDORE_HOLD_DIR etc.)
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("stevedore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 8. Bind CLI flags last; they win.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, readErr
}

// mergeProjectConfig checks for a `.stevedore.yaml` file in the current
// directory and merges it into the viper configuration if found.
func mergeProjectConfig(v *viper.Viper) {
	projectConfigFile := ".stevedore.yaml"
	if _, err := os.Stat(projectConfigFile); err == nil {
		v.SetConfigFile(projectConfigFile)
		// MergeInConfig errors on a malformed file; ignore so a broken
		// project override doesn't take the whole CLI down.
		_ = v.MergeInConfig()
		// Reset the config file path to avoid side effects.
		v.SetConfigFile("")
	}
}

// WriteConfigFile persists c to the user (or system) config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the DSN may carry database credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}
