// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"aegis/platform/directory"
)

// eligible reports whether a candidate may serve the request at all.
// Filtering never considers scores; an agent that fails any requirement is
// excluded regardless of its history.
func eligible(req *RoutingRequest, p *directory.AgentProfile) bool {
	if !p.Status.IsRoutable() {
		return false
	}
	if !p.HasTaskType(req.TaskType) {
		return false
	}
	if !containsAll(p.Capabilities.Languages, req.Languages) {
		return false
	}
	if !containsAll(p.Capabilities.Specializations, req.Specializations) {
		return false
	}
	if req.MaxUtilization != nil && p.Utilization() > *req.MaxUtilization {
		return false
	}
	return true
}

// containsAll reports whether every required entry appears in the candidate
// set. An empty requirement always passes.
func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// capabilityScore measures how well a candidate's declared skills cover the
// request, as a weighted blend of task-type match and language and
// specialization overlap ratios. Result is in [0,1].
func (r *CapabilityRouter) capabilityScore(req *RoutingRequest, p *directory.AgentProfile) float64 {
	taskScore := 0.0
	if p.HasTaskType(req.TaskType) {
		taskScore = 1.0
	}

	langScore := overlapRatio(p.Capabilities.Languages, req.Languages)
	specScore := overlapRatio(p.Capabilities.Specializations, req.Specializations)

	wTask := r.cfg.TaskTypeWeight
	wLang := r.cfg.LanguageWeight
	wSpec := r.cfg.SpecializationWeight
	total := wTask + wLang + wSpec

	return (taskScore*wTask + langScore*wLang + specScore*wSpec) / total
}

// overlapRatio returns |have ∩ want| / |want|, or 1.0 when nothing is
// required.
func overlapRatio(have, want []string) float64 {
	if len(want) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	matched := 0
	for _, w := range want {
		if _, ok := set[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

// scoreCandidate computes the full breakdown for one eligible candidate.
// The confidence bonus is filled in later on the exploitation path.
func (r *CapabilityRouter) scoreCandidate(req *RoutingRequest, p *directory.AgentProfile) CandidateScore {
	capScore := r.capabilityScore(req, p)
	perfScore := r.performanceScore(p)
	loadPenalty := p.Utilization()
	if loadPenalty > 1.0 {
		loadPenalty = 1.0
	}

	base := capScore*r.cfg.CapabilityWeight + perfScore*r.cfg.PerformanceWeight
	weighted := base * (1.0 - loadPenalty*r.cfg.LoadWeight)

	return CandidateScore{
		AgentID:          p.ID,
		CapabilityScore:  capScore,
		PerformanceScore: perfScore,
		LoadPenalty:      loadPenalty,
		WeightedScore:    weighted,
		FinalScore:       weighted,
	}
}
