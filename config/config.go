// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package config loads the platform configuration from a YAML file with
// ${VAR} environment expansion, then applies environment variable
// overrides for the settings operators most often change per deployment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Router   RouterConfig   `yaml:"router"`
	Policy   PolicyConfig   `yaml:"policy"`
	Waivers  WaiverConfig   `yaml:"waivers"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig covers the HTTP listener and auth.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`      // host:port for the HTTP API
	JWTSecret       string        `yaml:"jwt_secret"`       // HMAC secret for bearer tokens
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful drain window
}

// RouterConfig exposes the bandit tunables.
type RouterConfig struct {
	InitialEpsilon       float64 `yaml:"initial_epsilon"`
	MinEpsilon           float64 `yaml:"min_epsilon"`
	EpsilonDecayRate     float64 `yaml:"epsilon_decay_rate"`
	DecayInterval        int     `yaml:"decay_interval"`
	UCBConstant          float64 `yaml:"ucb_constant"`
	EMAAlpha             float64 `yaml:"ema_alpha"`
	MinSampleCount       int     `yaml:"min_sample_count"`
	CapabilityWeight     float64 `yaml:"capability_weight"`
	PerformanceWeight    float64 `yaml:"performance_weight"`
	LoadPenaltyWeight    float64 `yaml:"load_penalty_weight"`
	TaskTypeWeight       float64 `yaml:"task_type_weight"`
	LanguageWeight       float64 `yaml:"language_weight"`
	SpecializationWeight float64 `yaml:"specialization_weight"`
}

// PolicyConfig covers policy loading and verdict behavior.
type PolicyConfig struct {
	File              string         `yaml:"file"`               // path to the policy YAML
	RefreshInterval   time.Duration  `yaml:"refresh_interval"`   // snapshot reload cadence, 0 disables
	BlockingThreshold string         `yaml:"blocking_threshold"` // "high" or "critical"
	SeverityWeights   map[string]int `yaml:"severity_weights"`   // score deduction per severity
}

// WaiverConfig covers waiver lifecycle defaults.
type WaiverConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"` // expiry horizon for approved waivers
}

// DispatchConfig covers the violation action worker pool.
type DispatchConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"` // per-entry sink budget
}

// RedisConfig covers the shared agent load source. An empty URL disables it.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Default returns the configuration used when no file is supplied. The
// router zero fields are filled by the router package itself; this only
// sets the values the daemon wires directly.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8090",
			ShutdownTimeout: 15 * time.Second,
		},
		Policy: PolicyConfig{
			File:              "policies.yaml",
			RefreshInterval:   30 * time.Second,
			BlockingThreshold: "critical",
		},
		Waivers: WaiverConfig{
			DefaultTTL: 7 * 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			QueueSize: 1024,
			Workers:   2,
			Timeout:   2 * time.Second,
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. Unset
// variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads a YAML configuration file, expands ${VAR} references, and
// merges the result over the defaults. An empty path returns defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the most deployment-sensitive settings be set
// without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AEGIS_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("AEGIS_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("AEGIS_POLICY_FILE"); v != "" {
		c.Policy.File = v
	}
	if v := os.Getenv("AEGIS_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Policy.File == "" {
		return fmt.Errorf("policy.file is required")
	}
	switch c.Policy.BlockingThreshold {
	case "", "high", "critical":
	default:
		return fmt.Errorf("policy.blocking_threshold must be \"high\" or \"critical\", got %q", c.Policy.BlockingThreshold)
	}
	if c.Dispatch.Timeout < 0 {
		return fmt.Errorf("dispatch.timeout cannot be negative")
	}
	if c.Waivers.DefaultTTL < 0 {
		return fmt.Errorf("waivers.default_ttl cannot be negative")
	}
	if c.Router.EMAAlpha < 0 || c.Router.EMAAlpha > 1 {
		return fmt.Errorf("router.ema_alpha must be within [0, 1]")
	}
	if c.Router.InitialEpsilon < 0 || c.Router.InitialEpsilon > 1 {
		return fmt.Errorf("router.initial_epsilon must be within [0, 1]")
	}
	return nil
}
