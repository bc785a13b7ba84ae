// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/platform/constitution"
	"aegis/platform/directory"
	"aegis/platform/router"
)

func testPolicies() []constitution.Policy {
	return []constitution.Policy{{
		ID:        "no-ssn-export",
		Name:      "Block SSN exports",
		Principle: constitution.PrinciplePrivacy,
		Severity:  constitution.SeverityCritical,
		Enabled:   true,
		Rules: []constitution.Rule{{
			Field:   "payload.contains_ssn",
			Op:      constitution.OpEquals,
			Value:   true,
			Message: "operation payload contains SSNs",
		}},
	}}
}

func newTestServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()

	engine := constitution.NewEngine(
		constitution.DefaultEngineConfig(),
		constitution.NewSnapshotStore(testPolicies()),
		constitution.NewWaiverManager(0),
	)

	registry := directory.NewRegistry()
	require.NoError(t, registry.Register(&directory.AgentProfile{
		ID:           "agent-1",
		Capabilities: directory.Capabilities{TaskTypes: []string{"code-review"}, Languages: []string{"go"}},
		MaxCapacity:  10,
	}))

	return NewServer(":0", Options{
		Engine:    engine,
		Router:    router.New(router.Config{Seed: 1}),
		Registry:  registry,
		JWTSecret: jwtSecret,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "aegis-platform", body["service"])
}

func TestRouteAndOutcomeFlow(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/route", router.RoutingRequest{
		TaskID:   "task-1",
		TaskType: "code-review",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision router.RoutingDecision
	decodeBody(t, rec, &decision)
	assert.Equal(t, "agent-1", decision.AgentID)
	assert.False(t, decision.NoEligibleAgent)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/route/"+decision.ID+"/outcome", outcomeRequest{
		Success:   true,
		LatencyMs: 42,
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second outcome for the same decision conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/route/"+decision.ID+"/outcome", outcomeRequest{Success: true}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/route/no-such-id/outcome", outcomeRequest{Success: true}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouteNoEligibleAgent(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/route", router.RoutingRequest{
		TaskID:   "task-2",
		TaskType: "deployment",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision router.RoutingDecision
	decodeBody(t, rec, &decision)
	assert.True(t, decision.NoEligibleAgent)
}

func TestRouteInvalidRequest(t *testing.T) {
	s := newTestServer(t, "")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/route", router.RoutingRequest{TaskType: "code-review"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateHandler(t *testing.T) {
	s := newTestServer(t, "")

	t.Run("compliant operation", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/validate", validateRequest{
			Operation: constitution.Operation{Type: "db.read", ID: "op-1"},
		}, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp validateResponse
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Result.Compliant)
		assert.Nil(t, resp.Blocked)
	})

	t.Run("blocked operation gets 403 with verdict", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/validate", validateRequest{
			Operation: constitution.Operation{
				Type:    "data.export",
				ID:      "op-2",
				Payload: map[string]interface{}{"contains_ssn": true},
			},
		}, "")
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp validateResponse
		decodeBody(t, rec, &resp)
		assert.False(t, resp.Result.Compliant)
		require.NotNil(t, resp.Blocked)
		assert.Equal(t, "no-ssn-export", resp.Blocked.PolicyID)
	})

	t.Run("missing operation type rejected", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/validate", validateRequest{}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWaiverFlowUnblocksOperation(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/waivers", waiverRequest{
		TargetPattern: "data.export",
		Justification: "scheduled compliance export approved by change board",
		Requester:     "alice",
		TTLSeconds:    3600,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var waiver constitution.Waiver
	decodeBody(t, rec, &waiver)
	assert.Equal(t, constitution.WaiverPending, waiver.Status)

	// Self approval conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/waivers/"+waiver.ID+"/approve", waiverActionRequest{Actor: "alice"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/waivers/"+waiver.ID+"/approve", waiverActionRequest{Actor: "bob"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// The previously blocked operation now passes, with the waiver applied.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/validate", validateRequest{
		Operation: constitution.Operation{
			Type:    "data.export",
			ID:      "op-3",
			Payload: map[string]interface{}{"contains_ssn": true},
		},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Result.Compliant)
	assert.Equal(t, []string{waiver.ID}, resp.Result.AppliedWaivers)

	// Revoke closes the window again.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/waivers/"+waiver.ID+"/revoke", waiverActionRequest{Actor: "bob"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/validate", validateRequest{
		Operation: constitution.Operation{
			Type:    "data.export",
			ID:      "op-4",
			Payload: map[string]interface{}{"contains_ssn": true},
		},
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWaiverValidationErrors(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/waivers", waiverRequest{
		TargetPattern: "data.export",
		Justification: "too short",
		Requester:     "alice",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/waivers", waiverRequest{
		TargetPattern: "data.export",
		Justification: "scheduled compliance export approved by change board",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "requester required when auth is disabled")

	rec = doJSON(t, s, http.MethodPost, "/api/v1/waivers/no-such-id/approve", waiverActionRequest{Actor: "bob"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRegistrationEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/agents", directory.AgentProfile{
		ID:           "agent-2",
		Capabilities: directory.Capabilities{TaskTypes: []string{"deployment"}},
		MaxCapacity:  5,
	}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/api/v1/agents/agent-2/load", loadUpdateRequest{CurrentLoad: 3}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/agents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Agents []directory.AgentProfile `json:"agents"`
	}
	decodeBody(t, rec, &listing)
	assert.Len(t, listing.Agents, 2)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/agents/agent-2", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/agents/agent-2", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	rec := doJSON(t, s, http.MethodGet, "/api/v1/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Contains(t, body, "router")
	assert.Contains(t, body, "registry")
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "operator",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, secret)

	t.Run("missing token rejected", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/agents", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token with wrong secret rejected", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/agents", nil, signToken(t, "other-secret", "alice"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/agents", nil, signToken(t, secret, "alice"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/health", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("token subject is the waiver actor", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/waivers", waiverRequest{
			TargetPattern: "deploy.*",
			Justification: "planned maintenance window for deploy pipeline",
		}, signToken(t, secret, "alice"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var waiver constitution.Waiver
		decodeBody(t, rec, &waiver)
		assert.Equal(t, "alice", waiver.Requester)

		// Approval by the same token subject is still self-approval.
		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/waivers/%s/approve", waiver.ID), nil, signToken(t, secret, "alice"))
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/waivers/%s/approve", waiver.ID), nil, signToken(t, secret, "bob"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
