// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

// Package service exposes the routing and policy engines over HTTP. All
// state-changing endpoints sit behind bearer-token auth when a JWT secret
// is configured; health and Prometheus scraping stay open.
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aegis/platform/constitution"
	"aegis/platform/directory"
	"aegis/platform/dispatch"
	"aegis/platform/router"
	"aegis/platform/shared/logger"
)

// Server wires the engines behind an HTTP API.
type Server struct {
	engine     *constitution.Engine
	router     *router.CapabilityRouter
	registry   *directory.Registry
	loadSource *directory.RedisLoadSource
	dispatcher *dispatch.Dispatcher
	jwtSecret  []byte
	log        *logger.Logger

	httpServer *http.Server
}

// Options carries the dependencies for NewServer. LoadSource and Dispatcher
// may be nil; the corresponding features are skipped.
type Options struct {
	Engine     *constitution.Engine
	Router     *router.CapabilityRouter
	Registry   *directory.Registry
	LoadSource *directory.RedisLoadSource
	Dispatcher *dispatch.Dispatcher
	JWTSecret  string
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		engine:     opts.Engine,
		router:     opts.Router,
		registry:   opts.Registry,
		loadSource: opts.LoadSource,
		dispatcher: opts.Dispatcher,
		jwtSecret:  []byte(opts.JWTSecret),
		log:        logger.New("api-server"),
	}

	r := mux.NewRouter()

	// Open endpoints for probes and scrapers.
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	// Routing
	api.HandleFunc("/route", s.routeHandler).Methods("POST")
	api.HandleFunc("/route/{id}/outcome", s.outcomeHandler).Methods("POST")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	// Agent directory
	api.HandleFunc("/agents", s.registerAgentHandler).Methods("POST")
	api.HandleFunc("/agents", s.listAgentsHandler).Methods("GET")
	api.HandleFunc("/agents/{id}", s.unregisterAgentHandler).Methods("DELETE")
	api.HandleFunc("/agents/{id}/load", s.updateLoadHandler).Methods("PUT")

	// Policy evaluation
	api.HandleFunc("/validate", s.validateHandler).Methods("POST")
	api.HandleFunc("/audit", s.auditHandler).Methods("POST")
	api.HandleFunc("/trends", s.trendsHandler).Methods("GET")

	// Waiver lifecycle
	api.HandleFunc("/waivers", s.requestWaiverHandler).Methods("POST")
	api.HandleFunc("/waivers", s.listWaiversHandler).Methods("GET")
	api.HandleFunc("/waivers/{id}", s.getWaiverHandler).Methods("GET")
	api.HandleFunc("/waivers/{id}/approve", s.approveWaiverHandler).Methods("POST")
	api.HandleFunc("/waivers/{id}/reject", s.rejectWaiverHandler).Methods("POST")
	api.HandleFunc("/waivers/{id}/revoke", s.revokeWaiverHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.loggingMiddleware(r)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info("", "http server starting", map[string]interface{}{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.ErrorWithErr("", "encode response failed", err, nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
