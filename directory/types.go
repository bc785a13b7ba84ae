// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package directory provides the agent directory contracts consumed by the
// capability router: agent profiles, a thread-safe in-memory registry, and an
// optional Redis-backed load/health signal overlay.
package directory

import "time"

// AgentStatus represents the availability of an agent.
type AgentStatus string

const (
	StatusActive      AgentStatus = "active"
	StatusDegraded    AgentStatus = "degraded"
	StatusUnavailable AgentStatus = "unavailable"
)

// IsRoutable returns true if the agent may receive work.
// Degraded agents stay routable; their condition is reflected in
// load and performance signals instead of a hard exclusion.
func (s AgentStatus) IsRoutable() bool {
	return s == StatusActive || s == StatusDegraded
}

// Capabilities describes what an agent can do.
type Capabilities struct {
	TaskTypes       []string `json:"task_types" yaml:"task_types"`
	Languages       []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty" yaml:"specializations,omitempty"`
}

// AgentProfile is a point-in-time snapshot of a candidate agent supplied to
// the router for one routing call. The router never mutates a profile on its
// read path; performance statistics are owned by the router's own state.
type AgentProfile struct {
	ID           string       `json:"id" yaml:"id"`
	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`

	// SuccessRate is the directory's last known success-rate estimate,
	// used to seed the router's moving average for new agents.
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
	SampleCount int64   `json:"sample_count" yaml:"sample_count"`

	CurrentLoad int         `json:"current_load" yaml:"current_load"`
	MaxCapacity int         `json:"max_capacity" yaml:"max_capacity"`
	Status      AgentStatus `json:"status" yaml:"status"`

	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Utilization returns current load as a fraction of capacity.
// Agents with no declared capacity are treated as fully utilized.
func (p *AgentProfile) Utilization() float64 {
	if p.MaxCapacity <= 0 {
		return 1.0
	}
	return float64(p.CurrentLoad) / float64(p.MaxCapacity)
}

// HasTaskType reports whether the agent declares the given task type.
func (p *AgentProfile) HasTaskType(taskType string) bool {
	for _, t := range p.Capabilities.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile so callers can hold snapshots
// without aliasing registry state.
func (p *AgentProfile) Clone() *AgentProfile {
	cp := *p
	cp.Capabilities.TaskTypes = append([]string(nil), p.Capabilities.TaskTypes...)
	cp.Capabilities.Languages = append([]string(nil), p.Capabilities.Languages...)
	cp.Capabilities.Specializations = append([]string(nil), p.Capabilities.Specializations...)
	return &cp
}
