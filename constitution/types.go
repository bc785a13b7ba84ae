// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package constitution implements the constitutional policy engine: a
// deterministic, side-effect-free compliance gate that evaluates proposed
// operations against declarative policies, applies time-bounded waivers, and
// returns a verdict plus the response actions the dispatcher should take.
package constitution

import (
	"time"
)

// Severity classifies how serious a policy violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for threshold comparisons. Unknown severities rank
// below low so a typo in a policy file can never block traffic.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank() && s.rank() > 0
}

// Valid reports whether the severity is one of the known values.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// Principle names the constitutional concern a policy protects.
type Principle string

const (
	PrincipleSafety       Principle = "safety"
	PrinciplePrivacy      Principle = "privacy"
	PrincipleFairness     Principle = "fairness"
	PrincipleCompliance   Principle = "compliance"
	PrincipleTransparency Principle = "transparency"
)

// Rule is one condition inside a policy: a field path, an operator from the
// closed set, a comparison value, and the message reported on failure.
type Rule struct {
	Field   string      `json:"field" yaml:"field"`
	Op      Operator    `json:"operator" yaml:"operator"`
	Value   interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

// Policy is a declarative rule set tied to a named principle. Rules are
// evaluated in order and the first failing rule produces the policy's single
// violation.
type Policy struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Principle Principle `json:"principle" yaml:"principle"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Rules     []Rule    `json:"rules" yaml:"rules"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
}

// Operation is the descriptor of a proposed action submitted for validation.
type Operation struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Violation records one failed policy, whether or not a waiver suppressed it.
type Violation struct {
	PolicyID  string    `json:"policy_id"`
	Principle Principle `json:"principle"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Waived    bool      `json:"waived"`
	WaiverID  string    `json:"waiver_id,omitempty"`
}

// Action is one response the dispatcher must take for a violation.
type Action string

const (
	ActionLog      Action = "log"
	ActionAlert    Action = "alert"
	ActionEscalate Action = "escalate"
	ActionBlock    Action = "block"
)

// RequiredActions pairs a violation with its severity-derived responses.
// This is pure data; the engine performs no side effects itself.
type RequiredActions struct {
	Violation Violation `json:"violation"`
	Actions   []Action  `json:"actions"`
}

// EngineIssue is a non-fatal diagnostic produced while evaluating a
// malformed policy. The offending policy is skipped, everything else runs.
type EngineIssue struct {
	PolicyID string `json:"policy_id"`
	Rule     int    `json:"rule"`
	Detail   string `json:"detail"`
}

// ComplianceResult is the verdict for one operation.
type ComplianceResult struct {
	Compliant  bool        `json:"compliant"`
	Violations []Violation `json:"violations,omitempty"`

	// Score starts at 100 and loses the severity weight of every unwaived
	// violation, floored at zero.
	Score int `json:"score"`

	AppliedWaivers []string          `json:"applied_waivers,omitempty"`
	Required       []RequiredActions `json:"required_actions,omitempty"`
	EngineIssues   []EngineIssue     `json:"engine_issues,omitempty"`

	// Degraded is true when the engine is serving a stale last-known-good
	// policy snapshot after a refresh failure.
	Degraded    bool      `json:"degraded,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// actionsForSeverity maps a violation's severity to the dispatcher actions.
// Waived violations only log, regardless of severity.
func actionsForSeverity(s Severity, waived bool) []Action {
	if waived {
		return []Action{ActionLog}
	}
	switch s {
	case SeverityCritical:
		return []Action{ActionLog, ActionAlert, ActionEscalate, ActionBlock}
	case SeverityHigh:
		return []Action{ActionLog, ActionAlert, ActionEscalate}
	case SeverityMedium:
		return []Action{ActionLog, ActionAlert}
	default:
		return []Action{ActionLog}
	}
}
