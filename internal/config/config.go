// Package config loads and persists core configuration.
//
// Configuration is loaded from:
//  1. <base>/config.json (file)
//  2. Environment variables (override file values)
//
// Environment variables:
//   - BOTSTER_CORE_HOME: base directory for persisted state (spec §6)
//   - BOTSTER_POLL_BASE_INTERVAL_MS / BOTSTER_POLL_MAX_INTERVAL_MS: worktree
//     monitor adaptive-poll bounds (spec §4.5)
//   - BOTSTER_AI_BUFFER_DELAY_MS: debounce delay before triggering the AI
//     summary (spec §4.5)
//   - BOTSTER_CIRCUIT_BREAKER_THRESHOLD: consecutive VCS failures before the
//     worktree monitor's circuit breaker trips (spec §4.5)
//   - BOTSTER_SUMMARY_POOL_SIZE: bounded worker pool size for AI summary /
//     network calls (spec §5)
//   - BOTSTER_RING_CAPACITY: ring buffer capacity in bytes for active
//     sessions (spec §3, must be a power of two)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the core.
type Config struct {
	// Home is the base directory persisted state lives under.
	Home string `json:"home"`

	// PollBaseInterval and PollMaxInterval bound the worktree monitor's
	// adaptive backoff (spec §4.5 step 7).
	PollBaseInterval time.Duration `json:"poll_base_interval"`
	PollMaxInterval  time.Duration `json:"poll_max_interval"`

	// AIBufferDelay is the debounce delay before a dirty worktree's AI
	// summary is scheduled (spec §4.5, default 10s).
	AIBufferDelay time.Duration `json:"ai_buffer_delay"`

	// CircuitBreakerThreshold is the consecutive-failure count that trips
	// the worktree monitor's circuit breaker (spec §4.5, default 3).
	CircuitBreakerThreshold int `json:"circuit_breaker_threshold"`

	// SummaryPoolSize is the configured size of the AI-summary/network-call
	// worker pool (default 4). It is loaded and saved only; no package in
	// this module reads it, and no such pool exists.
	SummaryPoolSize int `json:"summary_pool_size"`

	// RingCapacity is the byte capacity of a foreground session's ring
	// (spec §3), must be a power of two.
	RingCapacity uint32 `json:"ring_capacity"`

	// ActivePollInterval / BackgroundPollInterval are the PTY host's tiered
	// polling intervals (spec §4.3).
	ActivePollInterval     time.Duration `json:"active_poll_interval"`
	BackgroundPollInterval time.Duration `json:"background_poll_interval"`
}

// DefaultConfig returns configuration with the defaults named in spec §9
// (non-contractual, but sensible): 3 failures, 2s/30s poll intervals, 10s
// summary debounce.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}

	return &Config{
		Home:                    filepath.Join(home, ".botster-core"),
		PollBaseInterval:        2 * time.Second,
		PollMaxInterval:         30 * time.Second,
		AIBufferDelay:           10 * time.Second,
		CircuitBreakerThreshold: 3,
		SummaryPoolSize:         4,
		RingCapacity:            1 << 20, // 1 MiB
		ActivePollInterval:      50 * time.Millisecond,
		BackgroundPollInterval:  500 * time.Millisecond,
	}
}

// Dir returns the base directory persisted state lives under, creating it
// if necessary. Respects BOTSTER_CORE_HOME.
func Dir() (string, error) {
	if override := os.Getenv("BOTSTER_CORE_HOME"); override != "" {
		if err := os.MkdirAll(override, 0700); err != nil {
			return "", fmt.Errorf("could not create base directory: %w", err)
		}
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(home, ".botster-core")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create base directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from file and applies environment variable
// overrides. Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if dir, err := Dir(); err == nil {
		cfg.Home = dir
	}

	_ = cfg.loadFromFile() // missing/invalid file: fall back to defaults
	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvOverrides() {
	if ms := os.Getenv("BOTSTER_POLL_BASE_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			c.PollBaseInterval = time.Duration(v) * time.Millisecond
		}
	}
	if ms := os.Getenv("BOTSTER_POLL_MAX_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			c.PollMaxInterval = time.Duration(v) * time.Millisecond
		}
	}
	if ms := os.Getenv("BOTSTER_AI_BUFFER_DELAY_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			c.AIBufferDelay = time.Duration(v) * time.Millisecond
		}
	}
	if n := os.Getenv("BOTSTER_CIRCUIT_BREAKER_THRESHOLD"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.CircuitBreakerThreshold = v
		}
	}
	if n := os.Getenv("BOTSTER_SUMMARY_POOL_SIZE"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.SummaryPoolSize = v
		}
	}
	if n := os.Getenv("BOTSTER_RING_CAPACITY"); n != "" {
		if v, err := strconv.ParseUint(n, 10, 32); err == nil {
			c.RingCapacity = uint32(v)
		}
	}
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create base directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
