// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig holds the backend startup retry settings.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries" description:"Retries while the backend is starting" default:"5"`
	BaseDelayMS int `yaml:"base_delay_ms" description:"Linear backoff step in milliseconds" default:"250"`
}

// Config holds keyresolve configuration settings
type Config struct {
	KeyringDir  string `yaml:"keyring_dir" description:"Directory of YAML key files (relative to data dir)" default:"keyring"`
	GPGSocket   string `yaml:"gpg_socket" description:"Assuan socket of the OpenPGP backend (empty = keyring only)"`
	GPGSMSocket string `yaml:"gpgsm_socket" description:"Assuan socket of the S/MIME backend (empty = keyring only)"`

	Formats            []string `yaml:"formats" description:"Allowed formats (inlineopenpgp, openpgpmime, smime, smimeopaque, anyopenpgp, anysmime, auto)" default:"[auto]"`
	FormatPreference   []string `yaml:"format_preference" description:"Order used when several formats resolve completely" default:"[openpgpmime, smime, inlineopenpgp, smimeopaque]"`
	FormatPolicyScript string   `yaml:"format_policy_script" description:"JavaScript file defining choose(formats); overrides format_preference"`
	AskOnAmbiguity     bool     `yaml:"ask_on_ambiguity" description:"Ask instead of using format_preference when several formats resolve" default:"false"`

	MinValidity       string `yaml:"min_validity" description:"Lowest key validity accepted for encryption (unknown, undefined, never, marginal, full, ultimate)" default:"marginal"`
	Approval          string `yaml:"approval" description:"Approval collaborator (auto, prompt, tui; empty = tui on a terminal, else auto)"`
	AcceptUnencrypted bool   `yaml:"accept_unencrypted" description:"Auto approval sends unencrypted to recipients without keys" default:"false"`
	AllowUnsigned     bool   `yaml:"allow_unsigned" description:"Auto approval sends unsigned when no signing key is found" default:"false"`

	Concurrency      int          `yaml:"concurrency" description:"Parallel key queries" default:"4"`
	CommandTimeoutMS int          `yaml:"command_timeout_ms" description:"Timeout for a single backend command in milliseconds" default:"10000"`
	Retry            *RetryConfig `yaml:"retry" description:"Backend startup retry settings"`
}

// DefaultConfig returns the default configuration for runtime use.
func DefaultConfig() Config {
	return Config{
		KeyringDir:       "keyring",
		Formats:          []string{"auto"},
		FormatPreference: []string{"openpgpmime", "smime", "inlineopenpgp", "smimeopaque"},
		MinValidity:      "marginal",
		Concurrency:      4,
		CommandTimeoutMS: 10000,
		Retry:            DefaultRetryConfig(),
	}
}

// DefaultRetryConfig returns the retry block defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxRetries: 5, BaseDelayMS: 250}
}

// CommandTimeout returns the per-command timeout.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// BaseDelay returns the retry backoff step.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// DefaultDataDir is the default data directory
const DefaultDataDir = "~/.keyresolve"

// GetDataDir returns the data directory.
// Resolution order: -d flag > KEYRESOLVE_DATA env var > ~/.keyresolve
func GetDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envDir := os.Getenv("KEYRESOLVE_DATA"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "" // Can't determine default
	}
	return filepath.Join(home, ".keyresolve")
}

// GetConfigPath returns the path to the config file in the data directory.
// Returns empty string if dataDir is empty.
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "config.yaml")
}

// ResolvePath resolves a path relative to baseDir if not absolute.
// Returns path unchanged if empty or already absolute.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads config.yaml from the data directory and resolves
// relative paths against it.
func LoadConfig(dataDir string) (Config, error) {
	config, err := LoadConfigFromPath(GetConfigPath(dataDir))
	if err != nil {
		return config, err
	}
	config.KeyringDir = ResolvePath(config.KeyringDir, dataDir)
	config.FormatPolicyScript = ResolvePath(config.FormatPolicyScript, dataDir)
	return config, nil
}

// LoadConfigFromPath loads configuration from the specified path.
// If path is empty or the file doesn't exist, returns default config.
func LoadConfigFromPath(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay config file values
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

var validApprovals = map[string]bool{"": true, "auto": true, "prompt": true, "tui": true}

// Validate checks field values and fills in defaults for zero values.
func (c *Config) Validate() error {
	defaults := DefaultConfig()
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative (got %d)", c.Concurrency)
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.CommandTimeoutMS <= 0 {
		c.CommandTimeoutMS = defaults.CommandTimeoutMS
	}
	if !validApprovals[c.Approval] {
		return fmt.Errorf("invalid approval '%s' in config (must be auto, prompt or tui)", c.Approval)
	}
	if c.Retry == nil {
		c.Retry = DefaultRetryConfig()
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseDelayMS < 0 {
		return fmt.Errorf("retry settings must not be negative")
	}
	if len(c.Formats) == 0 {
		c.Formats = defaults.Formats
	}
	if len(c.FormatPreference) == 0 {
		c.FormatPreference = defaults.FormatPreference
	}
	return nil
}
