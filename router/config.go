// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

// Config holds the tunable parameters of the capability router. All values
// are externally supplied; the defaults here are starting points, not
// load-bearing constants.
type Config struct {
	// Epsilon0 is the initial exploration probability.
	Epsilon0 float64 `yaml:"epsilon0"`

	// EpsilonMin is the floor the exploration probability decays toward.
	EpsilonMin float64 `yaml:"epsilon_min"`

	// EpsilonDecayRate is the geometric decay factor applied every
	// EpsilonDecayEvery decisions.
	EpsilonDecayRate  float64 `yaml:"epsilon_decay_rate"`
	EpsilonDecayEvery int64   `yaml:"epsilon_decay_every"`

	// UCBConstant scales the confidence bonus on the exploitation path.
	UCBConstant float64 `yaml:"ucb_constant"`

	// EMAAlpha is the smoothing factor for success-rate updates.
	EMAAlpha float64 `yaml:"ema_alpha"`

	// CapabilityWeight and PerformanceWeight split the base score.
	CapabilityWeight  float64 `yaml:"capability_weight"`
	PerformanceWeight float64 `yaml:"performance_weight"`

	// LoadWeight scales how strongly utilization discounts the base score.
	LoadWeight float64 `yaml:"load_weight"`

	// MinSampleCount is the number of recorded outcomes below which an
	// agent's performance score falls back to the neutral default.
	MinSampleCount int64 `yaml:"min_sample_count"`

	// Capability sub-weights: task-type match, language overlap ratio,
	// specialization overlap ratio. Normalized at scoring time.
	TaskTypeWeight       float64 `yaml:"task_type_weight"`
	LanguageWeight       float64 `yaml:"language_weight"`
	SpecializationWeight float64 `yaml:"specialization_weight"`

	// Seed fixes the random source for reproducible runs; 0 means
	// time-based seeding.
	Seed int64 `yaml:"seed,omitempty"`
}

// Neutral performance score used for agents below MinSampleCount.
const defaultPerformanceScore = 0.5

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon0:             0.1,
		EpsilonMin:           0.01,
		EpsilonDecayRate:     0.95,
		EpsilonDecayEvery:    100,
		UCBConstant:          1.0,
		EMAAlpha:             0.2,
		CapabilityWeight:     0.7,
		PerformanceWeight:    0.3,
		LoadWeight:           0.3,
		MinSampleCount:       5,
		TaskTypeWeight:       0.5,
		LanguageWeight:       0.3,
		SpecializationWeight: 0.2,
	}
}

// normalized fills zero-valued fields with defaults so a partially specified
// configuration stays usable.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Epsilon0 <= 0 {
		c.Epsilon0 = d.Epsilon0
	}
	if c.EpsilonMin <= 0 {
		c.EpsilonMin = d.EpsilonMin
	}
	if c.EpsilonDecayRate <= 0 || c.EpsilonDecayRate > 1 {
		c.EpsilonDecayRate = d.EpsilonDecayRate
	}
	if c.EpsilonDecayEvery <= 0 {
		c.EpsilonDecayEvery = d.EpsilonDecayEvery
	}
	if c.UCBConstant <= 0 {
		c.UCBConstant = d.UCBConstant
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha >= 1 {
		c.EMAAlpha = d.EMAAlpha
	}
	if c.CapabilityWeight <= 0 {
		c.CapabilityWeight = d.CapabilityWeight
	}
	if c.PerformanceWeight <= 0 {
		c.PerformanceWeight = d.PerformanceWeight
	}
	if c.LoadWeight <= 0 {
		c.LoadWeight = d.LoadWeight
	}
	if c.MinSampleCount <= 0 {
		c.MinSampleCount = d.MinSampleCount
	}
	if c.TaskTypeWeight <= 0 {
		c.TaskTypeWeight = d.TaskTypeWeight
	}
	if c.LanguageWeight <= 0 {
		c.LanguageWeight = d.LanguageWeight
	}
	if c.SpecializationWeight <= 0 {
		c.SpecializationWeight = d.SpecializationWeight
	}
	return c
}
