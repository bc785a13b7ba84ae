// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"aegis/platform/constitution"
	"aegis/platform/directory"
	"aegis/platform/router"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"router":      s.router != nil,
		"policies":    s.engine != nil && !s.engine.Snapshots().Degraded(),
		"directory":   s.registry != nil,
		"load_source": s.loadSource != nil,
	}

	status := "healthy"
	if s.engine != nil && s.engine.Snapshots().Degraded() {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"service":    "aegis-platform",
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

// routeHandler selects an agent for a task.
func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	var req router.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	candidates := s.registry.SnapshotForTaskType(req.TaskType)
	if s.loadSource != nil {
		// Live load beats stale registry values; a redis failure falls back
		// to whatever the registry last saw.
		if err := s.loadSource.ApplyLoad(r.Context(), candidates); err != nil {
			s.log.Warn(req.TaskID, "load overlay unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	decision, err := s.router.SelectAgent(r.Context(), &req, candidates)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrInvalidRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case r.Context().Err() != nil:
			s.writeError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if decision.NoEligibleAgent {
		promNoEligibleAgent.Inc()
		s.writeJSON(w, http.StatusOK, decision)
		return
	}

	promRoutingDecisions.WithLabelValues(string(decision.Strategy)).Inc()
	s.writeJSON(w, http.StatusOK, decision)
}

type outcomeRequest struct {
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
}

// outcomeHandler records the observed result of a routed task.
func (s *Server) outcomeHandler(w http.ResponseWriter, r *http.Request) {
	decisionID := mux.Vars(r)["id"]

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	latency := time.Duration(req.LatencyMs * float64(time.Millisecond))
	if err := s.router.RecordOutcome(decisionID, req.Success, latency); err != nil {
		switch {
		case errors.Is(err, router.ErrUnknownDecision):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, router.ErrOutcomeAlreadyRecorded):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// metricsHandler reports internal counters as JSON; Prometheus scraping
// uses /prometheus instead.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"router":   s.router.Metrics(),
		"registry": s.registry.Stats(),
	}
	if s.dispatcher != nil {
		body["dispatch"] = s.dispatcher.Stats()
	}
	if s.engine != nil {
		body["policies_degraded"] = s.engine.Snapshots().Degraded()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) registerAgentHandler(w http.ResponseWriter, r *http.Request) {
	var profile directory.AgentProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.Register(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.loadSource != nil {
		if err := s.loadSource.PublishLoad(r.Context(), profile.ID, profile.CurrentLoad, profile.Status); err != nil {
			s.log.Warn("", "publish load failed", map[string]interface{}{"agent_id": profile.ID, "error": err.Error()})
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"agent_id": profile.ID})
}

func (s *Server) listAgentsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": s.registry.Snapshot(),
		"stats":  s.registry.Stats(),
	})
}

func (s *Server) unregisterAgentHandler(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if err := s.registry.Unregister(agentID); err != nil {
		if errors.Is(err, directory.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type loadUpdateRequest struct {
	CurrentLoad int                   `json:"current_load"`
	Status      directory.AgentStatus `json:"status,omitempty"`
}

func (s *Server) updateLoadHandler(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	var req loadUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.registry.UpdateLoad(agentID, req.CurrentLoad); err != nil {
		if errors.Is(err, directory.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != "" {
		if err := s.registry.SetStatus(agentID, req.Status); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if s.loadSource != nil {
		status := req.Status
		if status == "" {
			if p, err := s.registry.Get(agentID); err == nil {
				status = p.Status
			}
		}
		if err := s.loadSource.PublishLoad(r.Context(), agentID, req.CurrentLoad, status); err != nil {
			s.log.Warn("", "publish load failed", map[string]interface{}{"agent_id": agentID, "error": err.Error()})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type validateRequest struct {
	Operation constitution.Operation `json:"operation"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

type validateResponse struct {
	Result  *constitution.ComplianceResult `json:"result"`
	Blocked *constitution.BlockedError     `json:"blocked,omitempty"`
}

// validateHandler runs the pre-execution compliance gate. A blocked
// operation gets 403 alongside the full verdict so the caller can see what
// to remediate.
func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Operation.Type == "" {
		s.writeError(w, http.StatusBadRequest, "operation.type is required")
		return
	}

	result := s.engine.ValidateOperation(&req.Operation, req.Context)
	promPolicyEvaluations.Inc()

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(&req.Operation, result)
	}

	blocked := s.engine.Blocked(&req.Operation, result)
	status := http.StatusOK
	if blocked != nil {
		promBlockedOperations.Inc()
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, validateResponse{Result: result, Blocked: blocked})
}

type auditRequest struct {
	Operation constitution.Operation `json:"operation"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Success   bool                   `json:"success"`
}

// auditHandler records a post-execution outcome into the compliance trends.
func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Operation.Type == "" {
		s.writeError(w, http.StatusBadRequest, "operation.type is required")
		return
	}

	result := s.engine.ValidateOperation(&req.Operation, req.Context)
	s.engine.AuditOperation(&req.Operation, result, req.Success)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "audited", "score": result.Score})
}

func (s *Server) trendsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Trends())
}

type waiverRequest struct {
	TargetPattern string `json:"target_pattern"`
	Justification string `json:"justification"`
	Requester     string `json:"requester,omitempty"`
	TTLSeconds    int    `json:"ttl_seconds,omitempty"`
}

// actorID resolves the acting identity: the authenticated token subject
// wins; the body fallback only applies when auth is disabled.
func (s *Server) actorID(r *http.Request, fallback string) string {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return actor.ID
	}
	return fallback
}

func (s *Server) requestWaiverHandler(w http.ResponseWriter, r *http.Request) {
	var req waiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requester := s.actorID(r, req.Requester)
	if requester == "" {
		s.writeError(w, http.StatusBadRequest, "requester is required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	waiver, err := s.engine.Waivers().Request(req.TargetPattern, requester, req.Justification, ttl)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, waiver)
}

func (s *Server) listWaiversHandler(w http.ResponseWriter, r *http.Request) {
	waivers := s.engine.Waivers().List()
	s.updateWaiverGauge(waivers)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"waivers": waivers})
}

func (s *Server) getWaiverHandler(w http.ResponseWriter, r *http.Request) {
	waiver, err := s.engine.Waivers().Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, waiver)
}

type waiverActionRequest struct {
	Actor string `json:"actor,omitempty"`
}

// waiverAction factors the shared shape of approve, reject, and revoke.
func (s *Server) waiverAction(w http.ResponseWriter, r *http.Request, action func(id, actor string) error) {
	waiverID := mux.Vars(r)["id"]

	var req waiverActionRequest
	if r.Body != nil {
		// Body is optional when the actor comes from the token.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	actor := s.actorID(r, req.Actor)
	if actor == "" {
		s.writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	if err := action(waiverID, actor); err != nil {
		var conflict *constitution.WaiverConflictError
		switch {
		case errors.Is(err, constitution.ErrWaiverNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &conflict):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	s.updateWaiverGauge(s.engine.Waivers().List())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) approveWaiverHandler(w http.ResponseWriter, r *http.Request) {
	s.waiverAction(w, r, s.engine.Waivers().Approve)
}

func (s *Server) rejectWaiverHandler(w http.ResponseWriter, r *http.Request) {
	s.waiverAction(w, r, s.engine.Waivers().Reject)
}

func (s *Server) revokeWaiverHandler(w http.ResponseWriter, r *http.Request) {
	s.waiverAction(w, r, s.engine.Waivers().Revoke)
}

func (s *Server) updateWaiverGauge(waivers []constitution.Waiver) {
	active := 0
	now := time.Now()
	for _, wv := range waivers {
		if wv.Status == constitution.WaiverApproved && now.Before(wv.ExpiresAt) {
			active++
		}
	}
	promActiveWaivers.Set(float64(active))
}
