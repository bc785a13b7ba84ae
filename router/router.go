// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aegis/platform/directory"
	"aegis/platform/shared/logger"
)

// maxTrackedDecisions bounds the pending-decision table. Decisions that never
// receive an outcome are evicted oldest-first once the table is full.
const maxTrackedDecisions = 10000

// agentStats holds the router-owned mutable state for one agent. Each agent
// has its own lock so outcome updates for different agents never contend.
type agentStats struct {
	mu          sync.Mutex
	successRate float64
	samples     int64
	selections  int64
}

// decisionRecord links a decision id back to the chosen agent so outcomes can
// be applied later.
type decisionRecord struct {
	agentID  string
	recorded bool
}

// CapabilityRouter selects one agent per routing request, balancing proven
// performance against the need to keep sampling less-proven agents.
type CapabilityRouter struct {
	cfg Config
	log *logger.Logger

	mu            sync.RWMutex
	stats         map[string]*agentStats
	decisions     map[string]*decisionRecord
	decisionOrder []string

	randMu sync.Mutex
	random *rand.Rand

	totalSelections int64
	totalDecisions  int64

	metrics routerMetrics
}

// New creates a capability router with the given configuration. Zero-valued
// config fields fall back to defaults.
func New(cfg Config) *CapabilityRouter {
	cfg = cfg.normalized()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &CapabilityRouter{
		cfg:       cfg,
		log:       logger.New("capability-router"),
		stats:     make(map[string]*agentStats),
		decisions: make(map[string]*decisionRecord),
		random:    rand.New(rand.NewSource(seed)),
	}
}

// SelectAgent filters, scores, and selects one agent for the request.
//
// An empty candidate set after filtering is not an error: the returned
// decision carries NoEligibleAgent=true and the caller decides whether to
// retry or relax constraints. A cancelled context aborts the call before any
// decision is recorded.
func (r *CapabilityRouter) SelectAgent(ctx context.Context, req *RoutingRequest, candidates []*directory.AgentProfile) (*RoutingDecision, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.TaskID == "" || req.TaskType == "" {
		return nil, fmt.Errorf("%w: task id and task type are required", ErrInvalidRequest)
	}

	var eligibleProfiles []*directory.AgentProfile
	for _, p := range candidates {
		if p != nil && eligible(req, p) {
			eligibleProfiles = append(eligibleProfiles, p)
		}
	}

	if len(eligibleProfiles) == 0 {
		decision := &RoutingDecision{
			ID:              uuid.New().String(),
			TaskID:          req.TaskID,
			NoEligibleAgent: true,
			Strategy:        StrategyNone,
			Timestamp:       time.Now(),
		}
		r.metrics.recordNoEligible(time.Since(start))
		atomic.AddInt64(&r.totalDecisions, 1)
		r.log.Warn(req.TaskID, "no eligible agent for request", map[string]interface{}{
			"task_type":  req.TaskType,
			"candidates": len(candidates),
		})
		return decision, nil
	}

	scores := make([]CandidateScore, 0, len(eligibleProfiles))
	for _, p := range eligibleProfiles {
		r.seedStats(p)
		scores = append(scores, r.scoreCandidate(req, p))
	}

	decisions := atomic.LoadInt64(&r.totalDecisions)
	eps := r.epsilon(decisions)

	var chosen *CandidateScore
	var strategy SelectionStrategy
	if r.float64() < eps {
		strategy = StrategyExplore
		chosen = r.selectExplore(scores)
	} else {
		strategy = StrategyExploit
		chosen = r.selectExploit(scores, atomic.LoadInt64(&r.totalSelections))
	}

	// Cancellation between scoring and commit: drop the work, record nothing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := topCandidates(scores, 3)
	decision := &RoutingDecision{
		ID:         uuid.New().String(),
		TaskID:     req.TaskID,
		AgentID:    chosen.AgentID,
		Strategy:   strategy,
		Candidates: top,
		Confidence: decisionConfidence(top),
		Timestamp:  time.Now(),
	}

	r.trackDecision(decision.ID, chosen.AgentID)
	atomic.AddInt64(&r.totalDecisions, 1)
	r.metrics.recordDecision(strategy, time.Since(start))

	r.log.Debug(req.TaskID, "agent selected", map[string]interface{}{
		"agent_id":   chosen.AgentID,
		"strategy":   string(strategy),
		"confidence": decision.Confidence,
		"epsilon":    eps,
	})
	return decision, nil
}

// RecordOutcome applies a task outcome to the decision's agent: the success
// rate moves by the configured EMA step and the selection count increments.
// Outcomes for the same agent must be submitted in receipt order; the
// per-agent lock preserves that order under concurrency across agents.
func (r *CapabilityRouter) RecordOutcome(decisionID string, success bool, latency time.Duration) error {
	r.mu.Lock()
	rec, ok := r.decisions[decisionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDecision, decisionID)
	}
	if rec.recorded {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOutcomeAlreadyRecorded, decisionID)
	}
	rec.recorded = true
	stats := r.statsLocked(rec.agentID)
	r.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	}

	stats.mu.Lock()
	stats.successRate = r.cfg.EMAAlpha*outcome + (1-r.cfg.EMAAlpha)*stats.successRate
	stats.samples++
	stats.selections++
	stats.mu.Unlock()

	atomic.AddInt64(&r.totalSelections, 1)
	r.metrics.recordOutcome(success, latency)
	return nil
}

// AgentSuccessRate returns the router's current success-rate estimate for an
// agent, or the neutral default if the agent has never been scored.
func (r *CapabilityRouter) AgentSuccessRate(agentID string) float64 {
	r.mu.RLock()
	stats, ok := r.stats[agentID]
	r.mu.RUnlock()
	if !ok {
		return defaultPerformanceScore
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	return stats.successRate
}

// performanceScore returns the success-rate estimate used for scoring.
// Agents below the minimum sample count get the neutral default so a couple
// of lucky or unlucky early outcomes cannot dominate.
func (r *CapabilityRouter) performanceScore(p *directory.AgentProfile) float64 {
	r.mu.RLock()
	stats, ok := r.stats[p.ID]
	r.mu.RUnlock()
	if !ok {
		return defaultPerformanceScore
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.samples < r.cfg.MinSampleCount {
		return defaultPerformanceScore
	}
	return stats.successRate
}

// seedStats creates the stats entry for a newly seen agent, seeding the EMA
// from the directory's estimate when it carries enough history.
func (r *CapabilityRouter) seedStats(p *directory.AgentProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stats[p.ID]; ok {
		return
	}
	s := &agentStats{successRate: defaultPerformanceScore}
	if p.SampleCount >= r.cfg.MinSampleCount && p.SuccessRate >= 0 && p.SuccessRate <= 1 {
		s.successRate = p.SuccessRate
		s.samples = p.SampleCount
	}
	r.stats[p.ID] = s
}

// selectionCount reads an agent's recorded selection count.
func (r *CapabilityRouter) selectionCount(agentID string) int64 {
	r.mu.RLock()
	stats, ok := r.stats[agentID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	return stats.selections
}

// statsLocked returns the stats entry for an agent, creating it if needed.
// Caller must hold r.mu.
func (r *CapabilityRouter) statsLocked(agentID string) *agentStats {
	stats, ok := r.stats[agentID]
	if !ok {
		stats = &agentStats{successRate: defaultPerformanceScore}
		r.stats[agentID] = stats
	}
	return stats
}

// trackDecision stores the decision→agent link, evicting the oldest entry
// once the table is full.
func (r *CapabilityRouter) trackDecision(decisionID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.decisionOrder) >= maxTrackedDecisions {
		oldest := r.decisionOrder[0]
		r.decisionOrder = r.decisionOrder[1:]
		delete(r.decisions, oldest)
	}
	r.decisions[decisionID] = &decisionRecord{agentID: agentID}
	r.decisionOrder = append(r.decisionOrder, decisionID)
}

// float64 draws from the router's random source.
func (r *CapabilityRouter) float64() float64 {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.random.Float64()
}

// intn draws a bounded int from the router's random source.
func (r *CapabilityRouter) intn(n int) int {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.random.Intn(n)
}
