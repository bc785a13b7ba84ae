// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package router implements the adaptive capability router. It assigns tasks
// to agents by combining capability matching with online performance
// statistics: an epsilon-greedy exploration schedule keeps low-sample agents
// periodically tried, while an upper-confidence-bound bonus shapes the
// exploitation path.
package router

import (
	"time"
)

// SelectionStrategy identifies which branch produced a routing decision.
type SelectionStrategy string

const (
	// StrategyExplore samples uniformly among the least-selected candidates.
	StrategyExplore SelectionStrategy = "explore"

	// StrategyExploit picks the highest confidence-adjusted score.
	StrategyExploit SelectionStrategy = "exploit"

	// StrategyNone is used when no candidate survived filtering.
	StrategyNone SelectionStrategy = "none"
)

// RoutingRequest describes one unit of work to be assigned.
type RoutingRequest struct {
	TaskID          string   `json:"task_id"`
	TaskType        string   `json:"task_type"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
	Priority        int      `json:"priority,omitempty"`

	// MaxUtilization, when set, excludes candidates whose load/capacity
	// ratio exceeds it.
	MaxUtilization *float64 `json:"max_utilization,omitempty"`
}

// CandidateScore is the per-candidate breakdown attached to a decision.
type CandidateScore struct {
	AgentID          string  `json:"agent_id"`
	CapabilityScore  float64 `json:"capability_score"`
	PerformanceScore float64 `json:"performance_score"`
	LoadPenalty      float64 `json:"load_penalty"`
	WeightedScore    float64 `json:"weighted_score"`
	ConfidenceBonus  float64 `json:"confidence_bonus"`
	FinalScore       float64 `json:"final_score"`
}

// RoutingDecision is the immutable outcome of one routing call. Exactly one
// of AgentID / NoEligibleAgent is meaningful: either an agent was chosen or
// the request had no eligible candidate.
type RoutingDecision struct {
	ID              string            `json:"id"`
	TaskID          string            `json:"task_id"`
	AgentID         string            `json:"agent_id,omitempty"`
	NoEligibleAgent bool              `json:"no_eligible_agent"`
	Strategy        SelectionStrategy `json:"strategy"`

	// Candidates holds the top-scored alternates (at most three).
	Candidates []CandidateScore `json:"candidates,omitempty"`

	// Confidence is the normalized gap between the best and second-best
	// final scores; 1.0 when there was no runner-up.
	Confidence float64 `json:"confidence"`

	Timestamp time.Time `json:"timestamp"`
}
