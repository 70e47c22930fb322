// Package config loads the daemon's runtime configuration. The config
// file is HCL (JSON accepted for machine-written configs) and controls
// paths, debounce, limits and telemetry; the traffic policy itself is a
// separate document handled by the policy package.
package config

import (
	"fmt"
	"time"

	"github.com/rampart-fw/rampart/internal/brand"
	"github.com/rampart-fw/rampart/internal/policy"
)

// Config is the daemon runtime configuration.
type Config struct {
	// PolicyFile is the policy document the hot-reload controller
	// watches.
	PolicyFile string `hcl:"policy_file,optional"`

	// LKGFile is the last-known-good baseline location.
	LKGFile string `hcl:"lkg_file,optional"`

	// SocketPath is the control plane unix socket.
	SocketPath string `hcl:"socket_path,optional"`

	// DebounceMs is the hot-reload quiet period in milliseconds.
	DebounceMs int `hcl:"debounce_ms,optional"`

	// MaxRules caps the rule count of a single policy.
	MaxRules int `hcl:"max_rules,optional"`

	// MaxPolicyBytes is the hard ceiling on a policy document delivered
	// over the control socket. Oversized documents are rejected before
	// they reach the engine.
	MaxPolicyBytes int `hcl:"max_policy_bytes,optional"`

	Log       *LogConfig       `hcl:"log,block"`
	Metrics   *MetricsConfig   `hcl:"metrics,block"`
	RateLimit *RateLimitConfig `hcl:"ratelimit,block"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level string `hcl:"level,optional"` // debug, info, warn, error
	JSON  bool   `hcl:"json,optional"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `hcl:"enabled,optional"`
	Listen  string `hcl:"listen,optional"`
}

// RateLimitConfig bounds control plane request rates per client
// identity (peer UID).
type RateLimitConfig struct {
	RequestsPerSecond float64 `hcl:"requests_per_second,optional"`
	Burst             int     `hcl:"burst,optional"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PolicyFile:     brand.DefaultPolicyPath(),
		LKGFile:        brand.LKGPath(),
		SocketPath:     brand.SocketPath(),
		DebounceMs:     500,
		MaxRules:       policy.DefaultMaxRules,
		MaxPolicyBytes: 1 << 20,
		Log:            &LogConfig{Level: "info"},
		Metrics:        &MetricsConfig{Listen: "127.0.0.1:9462"},
		RateLimit:      &RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
	}
}

// Debounce returns the hot-reload quiet period.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Validate checks the configuration for values the daemon cannot run
// with.
func (c *Config) Validate() error {
	if c.PolicyFile == "" {
		return fmt.Errorf("policy_file is required")
	}
	if c.LKGFile == "" {
		return fmt.Errorf("lkg_file is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms must not be negative")
	}
	if c.MaxRules <= 0 {
		return fmt.Errorf("max_rules must be positive")
	}
	if c.MaxPolicyBytes <= 0 {
		return fmt.Errorf("max_policy_bytes must be positive")
	}
	if c.Log != nil {
		switch c.Log.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("unknown log level %q", c.Log.Level)
		}
	}
	if c.RateLimit != nil {
		if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
			return fmt.Errorf("ratelimit values must not be negative")
		}
	}
	return nil
}

// applyDefaults fills unset fields from Default.
func (c *Config) applyDefaults() {
	d := Default()
	if c.PolicyFile == "" {
		c.PolicyFile = d.PolicyFile
	}
	if c.LKGFile == "" {
		c.LKGFile = d.LKGFile
	}
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.DebounceMs == 0 {
		c.DebounceMs = d.DebounceMs
	}
	if c.MaxRules == 0 {
		c.MaxRules = d.MaxRules
	}
	if c.MaxPolicyBytes == 0 {
		c.MaxPolicyBytes = d.MaxPolicyBytes
	}
	if c.Log == nil {
		c.Log = d.Log
	}
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	} else if c.Metrics.Listen == "" {
		c.Metrics.Listen = d.Metrics.Listen
	}
	if c.RateLimit == nil {
		c.RateLimit = d.RateLimit
	}
}
