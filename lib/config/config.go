// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the hal9999 daemon's process configuration.
//
// Configuration is loaded from a single file specified by either the
// HAL_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search: this keeps a running daemon's configuration deterministic
// and auditable from a single source.
//
// Provider slots — the set of backends a pool can provision from —
// are a separate, more frequently edited document; see [LoadSlots].
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master process configuration for hal9999d.
type Config struct {
	// DataDir is the root of the on-disk layout (spec.md §6): the
	// SQLite database, logs/, events/, and plans/ all live under it.
	DataDir string `yaml:"data_dir"`

	// PollInterval is how often the reconcile loop wakes up to reap
	// idle VMs, retry stale provisioning, and release orphaned tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StaleTaskMax is the heartbeat gap after which an in-flight task
	// is force-failed as "process died".
	StaleTaskMax time.Duration `yaml:"stale_task_max"`

	// StaleProvisionMax is how long a VM may sit in provisioning
	// before reapStaleProvisioning gives up on it.
	StaleProvisionMax time.Duration `yaml:"stale_provision_max"`

	// AgentTimeout bounds the wall-clock budget of a single task's
	// agent run, from launch to sentinel.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// SlotsFile is the path to the JSONC provider-slots document (see
	// [LoadSlots]).
	SlotsFile string `yaml:"slots_file"`

	// SSHUser and SSHPrivateKeyPath are the identity the orchestrator
	// authenticates the wrapper protocol's SSH sessions with. The
	// same keypair is used across every slot; per-provider injection
	// of its public half is HAL_SSH_KEY_ID (spec.md §6).
	SSHUser           string `yaml:"ssh_user"`
	SSHPrivateKeyPath string `yaml:"ssh_private_key_path"`

	// GitUserName and GitUserEmail are the commit identity the
	// wrapper script sets before committing any agent changes.
	GitUserName  string `yaml:"git_user_name"`
	GitUserEmail string `yaml:"git_user_email"`

	// CredentialStorePath is the age-encrypted credential store the
	// orchestrator's credential.Oracle falls back to when a key isn't
	// set in its own environment.
	CredentialStorePath string `yaml:"credential_store_path"`

	Agent AgentConfig `yaml:"agent"`
	Log   LogConfig   `yaml:"log"`
}

// AgentConfig is the contract spec.md treats as an external
// collaborator ("agent-specific invocation details"): everything the
// wrapper script needs to actually run an agent, without the
// orchestrator core knowing anything about that agent's CLI.
type AgentConfig struct {
	// Command is a shell command line invoking the agent. It reads
	// its natural-language context from the file named by
	// $context_file, which the wrapper script sets before invoking
	// it.
	Command string `yaml:"command"`

	// InstallScript, if non-empty, runs once per task before the
	// agent — idempotent, PATH-only, no secrets.
	InstallScript string `yaml:"install_script"`

	// PlanFirst enables the two-phase plan-then-execute variant.
	PlanFirst bool `yaml:"plan_first"`

	// NoPR disables the wrapper's `gh pr view` best-effort PR-url
	// capture step.
	NoPR bool `yaml:"no_pr"`
}

// LogConfig controls the daemon's structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns a Config with development-friendly defaults. These
// exist so every field has a sane zero value before the file is
// loaded, not as a substitute for the file — Load still requires
// HAL_CONFIG to be set.
func Default() *Config {
	return &Config{
		DataDir:           "./data",
		PollInterval:      10 * time.Second,
		StaleTaskMax:      30 * time.Minute,
		StaleProvisionMax: 5 * time.Minute,
		AgentTimeout:      600 * time.Second,
		SSHUser:           "root",
		GitUserName:       "hal9999",
		GitUserEmail:      "hal9999@example.invalid",
		Log:               LogConfig{Level: "info"},
	}
}

// Load loads configuration from the path in the HAL_CONFIG
// environment variable.
//
// This is the only way to load configuration without an explicit
// path. There is no fallback: if HAL_CONFIG is unset, this fails.
func Load() (*Config, error) {
	path := os.Getenv("HAL_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("HAL_CONFIG environment variable not set; " +
			"set it to the path of your hal9999.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, starting
// from [Default] so unset fields keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for obviously-broken values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.StaleTaskMax <= 0 {
		return fmt.Errorf("stale_task_max must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
