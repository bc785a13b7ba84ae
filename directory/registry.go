// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry manages agent profiles with thread-safe access. It is the
// reference in-process implementation of the agent directory; callers that
// persist agents elsewhere only need to produce []AgentProfile snapshots.
type Registry struct {
	agents      map[string]*AgentProfile
	mu          sync.RWMutex
	lastUpdate  time.Time
	updateCount int64
}

// RegistryStats provides statistics about the registry.
type RegistryStats struct {
	AgentCount  int       `json:"agent_count"`
	ActiveCount int       `json:"active_count"`
	LastUpdate  time.Time `json:"last_update"`
	UpdateCount int64     `json:"update_count"`
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*AgentProfile),
	}
}

// Register adds or replaces an agent profile.
func (r *Registry) Register(profile *AgentProfile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if profile.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if profile.MaxCapacity <= 0 {
		return fmt.Errorf("agent %s: max capacity must be positive", profile.ID)
	}
	if len(profile.Capabilities.TaskTypes) == 0 {
		return fmt.Errorf("agent %s: at least one task type is required", profile.ID)
	}

	cp := profile.Clone()
	cp.UpdatedAt = time.Now()
	if cp.Status == "" {
		cp.Status = StatusActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[cp.ID] = cp
	r.lastUpdate = time.Now()
	atomic.AddInt64(&r.updateCount, 1)
	return nil
}

// Unregister removes an agent from the directory.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	delete(r.agents, agentID)
	r.lastUpdate = time.Now()
	atomic.AddInt64(&r.updateCount, 1)
	return nil
}

// Get returns a copy of an agent profile.
func (r *Registry) Get(agentID string) (*AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return profile.Clone(), nil
}

// UpdateLoad records the current load for an agent.
func (r *Registry) UpdateLoad(agentID string, currentLoad int) error {
	if currentLoad < 0 {
		return fmt.Errorf("load cannot be negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	profile.CurrentLoad = currentLoad
	profile.UpdatedAt = time.Now()
	atomic.AddInt64(&r.updateCount, 1)
	return nil
}

// SetStatus updates an agent's availability status.
func (r *Registry) SetStatus(agentID string, status AgentStatus) error {
	switch status {
	case StatusActive, StatusDegraded, StatusUnavailable:
	default:
		return fmt.Errorf("invalid status: %s", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	profile.Status = status
	profile.UpdatedAt = time.Now()
	atomic.AddInt64(&r.updateCount, 1)
	return nil
}

// Snapshot returns copies of all registered profiles, sorted by id for
// deterministic iteration downstream.
func (r *Registry) Snapshot() []*AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentProfile, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SnapshotForTaskType returns copies of profiles declaring the given task type.
func (r *Registry) SnapshotForTaskType(taskType string) []*AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentProfile, 0)
	for _, p := range r.agents {
		if p.HasTaskType(taskType) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAgents returns the ids of all registered agents, sorted.
func (r *Registry) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns current registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, p := range r.agents {
		if p.Status == StatusActive {
			active++
		}
	}
	return RegistryStats{
		AgentCount:  len(r.agents),
		ActiveCount: active,
		LastUpdate:  r.lastUpdate,
		UpdateCount: atomic.LoadInt64(&r.updateCount),
	}
}

// IsEmpty returns true if no agents are registered.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents) == 0
}

// Clear removes all agents. Useful for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*AgentProfile)
}
