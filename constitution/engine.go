// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"aegis/platform/shared/logger"
)

// EngineConfig holds the tunable parameters of the policy engine.
type EngineConfig struct {
	// BlockingThreshold is the lowest severity that blocks an operation
	// when unwaived. Critical by default; set to "high" to make HIGH
	// violations blocking as well.
	BlockingThreshold Severity `yaml:"blocking_threshold"`

	// SeverityWeights are the score deductions per unwaived violation.
	SeverityWeights map[Severity]int `yaml:"severity_weights"`
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BlockingThreshold: SeverityCritical,
		SeverityWeights: map[Severity]int{
			SeverityLow:      5,
			SeverityMedium:   15,
			SeverityHigh:     30,
			SeverityCritical: 60,
		},
	}
}

// normalized fills missing config values with defaults.
func (c EngineConfig) normalized() EngineConfig {
	d := DefaultEngineConfig()
	if !c.BlockingThreshold.Valid() {
		c.BlockingThreshold = d.BlockingThreshold
	}
	if len(c.SeverityWeights) == 0 {
		c.SeverityWeights = d.SeverityWeights
	} else {
		for sev, w := range d.SeverityWeights {
			if _, ok := c.SeverityWeights[sev]; !ok {
				c.SeverityWeights[sev] = w
			}
		}
	}
	return c
}

// Engine is the constitutional policy engine. Validation is a pure function
// of the operation, the live policy snapshot, and the approved waiver set;
// the engine holds no per-operation state and performs no side effects.
type Engine struct {
	cfg       EngineConfig
	snapshots *SnapshotStore
	waivers   *WaiverManager
	log       *logger.Logger

	// now is injectable so waiver expiry boundaries are testable.
	now func() time.Time

	trends trendState
}

// NewEngine creates a policy engine over the given snapshot store and
// waiver manager.
func NewEngine(cfg EngineConfig, snapshots *SnapshotStore, waivers *WaiverManager) *Engine {
	return &Engine{
		cfg:       cfg.normalized(),
		snapshots: snapshots,
		waivers:   waivers,
		log:       logger.New("policy-engine"),
		now:       time.Now,
	}
}

// Waivers exposes the engine's waiver manager for lifecycle calls.
func (e *Engine) Waivers() *WaiverManager {
	return e.waivers
}

// Snapshots exposes the engine's policy snapshot store.
func (e *Engine) Snapshots() *SnapshotStore {
	return e.snapshots
}

// ValidateOperation evaluates every registered policy against the operation.
//
// Per policy, rules run in order and the first matching rule produces that
// policy's single violation. A malformed rule produces a non-fatal engine
// issue and skips only that policy. Approved, unexpired waivers whose target
// pattern covers the operation suppress blocking but the violation is still
// recorded for audit.
func (e *Engine) ValidateOperation(op *Operation, evalCtx map[string]interface{}) *ComplianceResult {
	now := e.now()
	snapshot := e.snapshots.Current()

	result := &ComplianceResult{
		Compliant:   true,
		Score:       100,
		Degraded:    e.snapshots.Degraded(),
		EvaluatedAt: now,
	}

	appliedWaivers := make(map[string]struct{})

	for pi := range snapshot.Policies {
		policy := &snapshot.Policies[pi]
		if !policy.Enabled {
			continue
		}

		violation, issue := e.evaluatePolicy(policy, op, evalCtx)
		if issue != nil {
			result.EngineIssues = append(result.EngineIssues, *issue)
			e.log.Warn(op.ID, "policy skipped due to engine issue", map[string]interface{}{
				"policy_id": issue.PolicyID,
				"detail":    issue.Detail,
			})
			continue
		}
		if violation == nil {
			continue
		}

		if waiverID, ok := e.waivers.match(op, now); ok {
			violation.Waived = true
			violation.WaiverID = waiverID
			appliedWaivers[waiverID] = struct{}{}
		}

		result.Violations = append(result.Violations, *violation)
		result.Required = append(result.Required, RequiredActions{
			Violation: *violation,
			Actions:   actionsForSeverity(violation.Severity, violation.Waived),
		})

		if !violation.Waived {
			result.Score -= e.severityWeight(violation.Severity)
			if violation.Severity.AtLeast(e.cfg.BlockingThreshold) {
				result.Compliant = false
			}
		}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	for id := range appliedWaivers {
		result.AppliedWaivers = append(result.AppliedWaivers, id)
	}
	sort.Strings(result.AppliedWaivers)

	return result
}

// evaluatePolicy runs one policy's rules in order. It returns either a
// violation (first matching rule), an engine issue (malformed rule), or
// neither when the operation passes.
func (e *Engine) evaluatePolicy(policy *Policy, op *Operation, evalCtx map[string]interface{}) (*Violation, *EngineIssue) {
	for ri := range policy.Rules {
		rule := &policy.Rules[ri]
		fieldValue := resolveField(op, evalCtx, rule.Field)

		matched, err := rule.Op.Evaluate(fieldValue, rule.Value)
		if err != nil {
			return nil, &EngineIssue{
				PolicyID: policy.ID,
				Rule:     ri,
				Detail:   err.Error(),
			}
		}
		if matched {
			message := rule.Message
			if message == "" {
				message = fmt.Sprintf("rule %d of policy %s matched", ri, policy.ID)
			}
			return &Violation{
				PolicyID:  policy.ID,
				Principle: policy.Principle,
				Severity:  policy.Severity,
				Message:   message,
			}, nil
		}
	}
	return nil, nil
}

// severityWeight returns the score deduction for a severity.
func (e *Engine) severityWeight(s Severity) int {
	if w, ok := e.cfg.SeverityWeights[s]; ok {
		return w
	}
	return 0
}

// Blocked converts a non-compliant result into the typed rejection error for
// its most severe unwaived violation, including a remediation hint naming
// the waiver pattern that would cover the operation.
func (e *Engine) Blocked(op *Operation, result *ComplianceResult) *BlockedError {
	if result == nil || result.Compliant {
		return nil
	}

	var worst *Violation
	for i := range result.Violations {
		v := &result.Violations[i]
		if v.Waived || !v.Severity.AtLeast(e.cfg.BlockingThreshold) {
			continue
		}
		if worst == nil || v.Severity.rank() > worst.Severity.rank() {
			worst = v
		}
	}
	if worst == nil {
		return nil
	}

	return &BlockedError{
		PolicyID:    worst.PolicyID,
		Principle:   worst.Principle,
		Severity:    worst.Severity,
		Message:     worst.Message,
		Remediation: fmt.Sprintf("request a waiver matching pattern %q", op.Type),
	}
}

// trendState accumulates post-execution audit data. It feeds trend scoring
// only and never influences a verdict.
type trendState struct {
	mu sync.Mutex

	totalAudits     int64
	successfulRuns  int64
	violationCounts map[Principle]int64
	recentScores    []int
}

// trendScoreWindow bounds the recent-score window used for the moving
// compliance average.
const trendScoreWindow = 100

// TrendReport is a snapshot of audited compliance trends.
type TrendReport struct {
	TotalAudits           int64               `json:"total_audits"`
	SuccessfulRuns        int64               `json:"successful_runs"`
	ViolationsByPrinciple map[Principle]int64 `json:"violations_by_principle"`
	AvgRecentScore        float64             `json:"avg_recent_score"`
}

// AuditOperation records the post-execution outcome for an operation
// alongside its validation result. It always succeeds and never blocks.
func (e *Engine) AuditOperation(op *Operation, result *ComplianceResult, success bool) {
	e.trends.mu.Lock()
	defer e.trends.mu.Unlock()

	t := &e.trends
	if t.violationCounts == nil {
		t.violationCounts = make(map[Principle]int64)
	}

	t.totalAudits++
	if success {
		t.successfulRuns++
	}
	if result != nil {
		for _, v := range result.Violations {
			if !v.Waived {
				t.violationCounts[v.Principle]++
			}
		}
		t.recentScores = append(t.recentScores, result.Score)
		if len(t.recentScores) > trendScoreWindow {
			t.recentScores = t.recentScores[len(t.recentScores)-trendScoreWindow:]
		}
	}

	e.log.Debug(op.ID, "operation audited", map[string]interface{}{
		"success": success,
	})
}

// Trends returns a snapshot of audited compliance trends.
func (e *Engine) Trends() TrendReport {
	e.trends.mu.Lock()
	defer e.trends.mu.Unlock()

	report := TrendReport{
		TotalAudits:           e.trends.totalAudits,
		SuccessfulRuns:        e.trends.successfulRuns,
		ViolationsByPrinciple: make(map[Principle]int64, len(e.trends.violationCounts)),
	}
	for p, n := range e.trends.violationCounts {
		report.ViolationsByPrinciple[p] = n
	}
	if len(e.trends.recentScores) > 0 {
		sum := 0
		for _, s := range e.trends.recentScores {
			sum += s
		}
		report.AvgRecentScore = float64(sum) / float64(len(e.trends.recentScores))
	}
	return report
}

// setClock overrides the engine's time source. Tests only.
func (e *Engine) setClock(now func() time.Time) {
	e.now = now
}
