// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package constitution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicies() []Policy {
	return []Policy{
		{
			ID:        "no-ssn-export",
			Name:      "Block SSN exports",
			Principle: PrinciplePrivacy,
			Severity:  SeverityCritical,
			Enabled:   true,
			Rules: []Rule{
				{Field: "payload.contains_ssn", Op: OpEquals, Value: true, Message: "operation payload contains SSNs"},
			},
		},
		{
			ID:        "untrusted-actor",
			Name:      "Flag untrusted actors",
			Principle: PrincipleSafety,
			Severity:  SeverityHigh,
			Enabled:   true,
			Rules: []Rule{
				{Field: "actor", Op: OpIn, Value: []interface{}{"svc-untrusted"}, Message: "actor is not on the trusted list"},
			},
		},
		{
			ID:        "large-batch",
			Name:      "Large batch warning",
			Principle: PrincipleCompliance,
			Severity:  SeverityMedium,
			Enabled:   true,
			Rules: []Rule{
				{Field: "payload.rows", Op: OpGreaterThan, Value: 1000, Message: "batch exceeds row limit"},
			},
		},
		{
			ID:        "disabled-policy",
			Name:      "Never evaluated",
			Principle: PrincipleFairness,
			Severity:  SeverityCritical,
			Enabled:   false,
			Rules: []Rule{
				{Field: "type", Op: OpEquals, Value: "anything"},
			},
		},
	}
}

func newTestEngine(policies []Policy) *Engine {
	return NewEngine(DefaultEngineConfig(), NewSnapshotStore(policies), NewWaiverManager(0))
}

func TestValidateOperationCompliant(t *testing.T) {
	e := newTestEngine(testPolicies())

	op := &Operation{Type: "db.read", ID: "op-1", ActorID: "svc-reports"}
	result := e.ValidateOperation(op, nil)

	assert.True(t, result.Compliant)
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.Required)
	assert.Empty(t, result.EngineIssues)
	assert.False(t, result.Degraded)
	assert.Nil(t, e.Blocked(op, result))
}

func TestValidateOperationCriticalBlocks(t *testing.T) {
	e := newTestEngine(testPolicies())

	op := &Operation{
		Type:    "data.export",
		ID:      "op-2",
		ActorID: "svc-reports",
		Payload: map[string]interface{}{"contains_ssn": true},
	}
	result := e.ValidateOperation(op, nil)

	assert.False(t, result.Compliant)
	assert.Equal(t, 40, result.Score) // 100 - 60 for one critical
	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, "no-ssn-export", v.PolicyID)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.False(t, v.Waived)

	blocked := e.Blocked(op, result)
	require.NotNil(t, blocked)
	assert.Equal(t, "no-ssn-export", blocked.PolicyID)
	assert.Contains(t, blocked.Remediation, `"data.export"`)

	require.Len(t, result.Required, 1)
	assert.Equal(t, []Action{ActionLog, ActionAlert, ActionEscalate, ActionBlock}, result.Required[0].Actions)
}

func TestValidateOperationDeterministic(t *testing.T) {
	e := newTestEngine(testPolicies())
	e.setClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })

	op := &Operation{
		Type:    "data.export",
		ID:      "op-3",
		ActorID: "svc-untrusted",
		Payload: map[string]interface{}{"contains_ssn": true, "rows": 5000},
	}

	first := e.ValidateOperation(op, nil)
	second := e.ValidateOperation(op, nil)
	assert.Equal(t, first, second, "same operation and policy set must produce identical verdicts")

	// All three enabled policies fire; deductions stack and floor at zero.
	assert.Len(t, first.Violations, 3)
	assert.Equal(t, 0, first.Score)
}

func TestValidateOperationScoreFloor(t *testing.T) {
	policies := []Policy{}
	for _, id := range []string{"c1", "c2"} {
		policies = append(policies, Policy{
			ID: id, Principle: PrincipleSafety, Severity: SeverityCritical, Enabled: true,
			Rules: []Rule{{Field: "type", Op: OpEquals, Value: "risky"}},
		})
	}
	e := newTestEngine(policies)

	result := e.ValidateOperation(&Operation{Type: "risky", ID: "op-4"}, nil)
	assert.Equal(t, 0, result.Score, "score never goes negative")
}

func TestValidateOperationHighDoesNotBlockByDefault(t *testing.T) {
	e := newTestEngine(testPolicies())

	op := &Operation{Type: "db.write", ID: "op-5", ActorID: "svc-untrusted"}
	result := e.ValidateOperation(op, nil)

	assert.True(t, result.Compliant, "HIGH violations deduct score but do not block by default")
	assert.Equal(t, 70, result.Score)
	assert.Nil(t, e.Blocked(op, result))

	require.Len(t, result.Required, 1)
	assert.Equal(t, []Action{ActionLog, ActionAlert, ActionEscalate}, result.Required[0].Actions)
}

func TestValidateOperationHighBlocksWhenConfigured(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BlockingThreshold = SeverityHigh
	e := NewEngine(cfg, NewSnapshotStore(testPolicies()), NewWaiverManager(0))

	op := &Operation{Type: "db.write", ID: "op-6", ActorID: "svc-untrusted"}
	result := e.ValidateOperation(op, nil)

	assert.False(t, result.Compliant)
	blocked := e.Blocked(op, result)
	require.NotNil(t, blocked)
	assert.Equal(t, SeverityHigh, blocked.Severity)
}

func TestValidateOperationWaiverSuppresses(t *testing.T) {
	e := newTestEngine(testPolicies())

	w, err := e.Waivers().Request("data.export", "alice", testJustification, time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.Waivers().Approve(w.ID, "bob"))

	op := &Operation{
		Type:    "data.export",
		ID:      "op-7",
		ActorID: "svc-reports",
		Payload: map[string]interface{}{"contains_ssn": true},
	}
	result := e.ValidateOperation(op, nil)

	assert.True(t, result.Compliant, "waived critical violation must not block")
	assert.Equal(t, 100, result.Score, "waived violations do not deduct")
	require.Len(t, result.Violations, 1)
	assert.True(t, result.Violations[0].Waived)
	assert.Equal(t, w.ID, result.Violations[0].WaiverID)
	assert.Equal(t, []string{w.ID}, result.AppliedWaivers)
	assert.Nil(t, e.Blocked(op, result))

	// Waived violations still get logged, nothing more.
	require.Len(t, result.Required, 1)
	assert.Equal(t, []Action{ActionLog}, result.Required[0].Actions)
}

func TestValidateOperationExpiredWaiverDoesNotSuppress(t *testing.T) {
	e := newTestEngine(testPolicies())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.Waivers().setClock(func() time.Time { return base })

	w, err := e.Waivers().Request("data.export", "alice", testJustification, time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.Waivers().Approve(w.ID, "bob"))

	// Validate exactly at the expiry instant.
	e.setClock(func() time.Time { return base.Add(time.Hour) })

	op := &Operation{
		Type:    "data.export",
		ID:      "op-8",
		Payload: map[string]interface{}{"contains_ssn": true},
	}
	result := e.ValidateOperation(op, nil)

	assert.False(t, result.Compliant)
	require.Len(t, result.Violations, 1)
	assert.False(t, result.Violations[0].Waived)
	assert.Empty(t, result.AppliedWaivers)
}

func TestValidateOperationMalformedRuleSkipsPolicy(t *testing.T) {
	policies := append(testPolicies(), Policy{
		ID:        "broken-policy",
		Principle: PrincipleSafety,
		Severity:  SeverityCritical,
		Enabled:   true,
		Rules: []Rule{
			{Field: "payload.rows", Op: OpGreaterThan, Value: "not-a-number"},
		},
	})
	e := newTestEngine(policies)

	op := &Operation{
		Type:    "db.write",
		ID:      "op-9",
		Payload: map[string]interface{}{"rows": 10},
	}
	result := e.ValidateOperation(op, nil)

	assert.True(t, result.Compliant, "a malformed policy is skipped, not fatal")
	require.Len(t, result.EngineIssues, 1)
	assert.Equal(t, "broken-policy", result.EngineIssues[0].PolicyID)
	assert.Equal(t, 0, result.EngineIssues[0].Rule)
}

func TestValidateOperationFirstMatchingRuleWins(t *testing.T) {
	policies := []Policy{{
		ID:        "multi-rule",
		Principle: PrincipleSafety,
		Severity:  SeverityMedium,
		Enabled:   true,
		Rules: []Rule{
			{Field: "payload.rows", Op: OpGreaterThan, Value: 100, Message: "first"},
			{Field: "payload.rows", Op: OpGreaterThan, Value: 10, Message: "second"},
		},
	}}
	e := newTestEngine(policies)

	result := e.ValidateOperation(&Operation{
		Type: "db.write", ID: "op-10",
		Payload: map[string]interface{}{"rows": 500},
	}, nil)

	require.Len(t, result.Violations, 1, "one violation per policy")
	assert.Equal(t, "first", result.Violations[0].Message)
}

func TestValidateOperationEmptySnapshot(t *testing.T) {
	e := newTestEngine(nil)
	result := e.ValidateOperation(&Operation{Type: "anything", ID: "op-11"}, nil)
	assert.True(t, result.Compliant)
	assert.Equal(t, 100, result.Score)
}

func TestAuditTrends(t *testing.T) {
	e := newTestEngine(testPolicies())

	compliantOp := &Operation{Type: "db.read", ID: "op-a"}
	e.AuditOperation(compliantOp, e.ValidateOperation(compliantOp, nil), true)

	violatingOp := &Operation{Type: "db.write", ID: "op-b", ActorID: "svc-untrusted"}
	e.AuditOperation(violatingOp, e.ValidateOperation(violatingOp, nil), false)

	trends := e.Trends()
	assert.Equal(t, int64(2), trends.TotalAudits)
	assert.Equal(t, int64(1), trends.SuccessfulRuns)
	assert.Equal(t, int64(1), trends.ViolationsByPrinciple[PrincipleSafety])
	assert.InDelta(t, (100.0+70.0)/2, trends.AvgRecentScore, 1e-9)
}
