// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_requests_total",
			Help: "Total number of HTTP requests handled, by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"endpoint"},
	)
	promRoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_routing_decisions_total",
			Help: "Total number of routing decisions, by selection strategy",
		},
		[]string{"strategy"},
	)
	promNoEligibleAgent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_routing_no_eligible_agent_total",
			Help: "Total number of routing requests with no eligible agent",
		},
	)
	promPolicyEvaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_policy_evaluations_total",
			Help: "Total number of operations evaluated against the policy set",
		},
	)
	promBlockedOperations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_policy_blocked_operations_total",
			Help: "Total number of operations blocked by policy violations",
		},
	)
	promActiveWaivers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_waivers_active",
			Help: "Number of approved, unexpired waivers",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promRoutingDecisions)
	prometheus.MustRegister(promNoEligibleAgent)
	prometheus.MustRegister(promPolicyEvaluations)
	prometheus.MustRegister(promBlockedOperations)
	prometheus.MustRegister(promActiveWaivers)
}
