// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sync"
	"time"
)

// Metrics is an idempotent snapshot of router activity. Calling Metrics()
// twice with no intervening decisions returns identical values.
type Metrics struct {
	TotalDecisions int64 `json:"total_decisions"`

	// ExplorationRate and ExploitationRate are observed fractions of
	// decisions that picked an agent, not the configured schedule.
	ExplorationRate  float64 `json:"exploration_rate"`
	ExploitationRate float64 `json:"exploitation_rate"`

	// CapabilityMismatchRate is the fraction of requests with zero
	// eligible candidates.
	CapabilityMismatchRate float64 `json:"capability_mismatch_rate"`

	AvgDecisionLatencyMs float64 `json:"avg_decision_latency_ms"`

	OutcomesRecorded    int64   `json:"outcomes_recorded"`
	OutcomeSuccesses    int64   `json:"outcome_successes"`
	AvgOutcomeLatencyMs float64 `json:"avg_outcome_latency_ms"`
}

// routerMetrics accumulates counters under a single small lock. Decision
// latency is the router's own selection time, not the task's.
type routerMetrics struct {
	mu sync.Mutex

	exploreCount    int64
	exploitCount    int64
	noEligibleCount int64

	decisionLatencySum time.Duration
	decisionCount      int64

	outcomeCount      int64
	outcomeSuccesses  int64
	outcomeLatencySum time.Duration
}

func (m *routerMetrics) recordDecision(strategy SelectionStrategy, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch strategy {
	case StrategyExplore:
		m.exploreCount++
	case StrategyExploit:
		m.exploitCount++
	}
	m.decisionLatencySum += latency
	m.decisionCount++
}

func (m *routerMetrics) recordNoEligible(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.noEligibleCount++
	m.decisionLatencySum += latency
	m.decisionCount++
}

func (m *routerMetrics) recordOutcome(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomeCount++
	if success {
		m.outcomeSuccesses++
	}
	m.outcomeLatencySum += latency
}

// Metrics returns a consistent snapshot of router activity.
func (r *CapabilityRouter) Metrics() Metrics {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()

	m := &r.metrics
	total := m.exploreCount + m.exploitCount + m.noEligibleCount
	selected := m.exploreCount + m.exploitCount

	snapshot := Metrics{
		TotalDecisions:   total,
		OutcomesRecorded: m.outcomeCount,
		OutcomeSuccesses: m.outcomeSuccesses,
	}
	if selected > 0 {
		snapshot.ExplorationRate = float64(m.exploreCount) / float64(selected)
		snapshot.ExploitationRate = float64(m.exploitCount) / float64(selected)
	}
	if total > 0 {
		snapshot.CapabilityMismatchRate = float64(m.noEligibleCount) / float64(total)
	}
	if m.decisionCount > 0 {
		snapshot.AvgDecisionLatencyMs = float64(m.decisionLatencySum.Microseconds()) / float64(m.decisionCount) / 1000.0
	}
	if m.outcomeCount > 0 {
		snapshot.AvgOutcomeLatencyMs = float64(m.outcomeLatencySum.Microseconds()) / float64(m.outcomeCount) / 1000.0
	}
	return snapshot
}
