// Package metrics provides Prometheus instrumentation for Harrier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harrier"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// GateDecisions counts enforcement outcomes by feature and outcome.
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "enforcement",
		Name:      "decisions_total",
		Help:      "Enforcement gate decisions by feature and outcome.",
	}, []string{"feature", "outcome"}) // "allowed", "risk_blocked", "velocity_limit", "unavailable", "degraded"

	// VelocityResponses counts velocity check responses by action.
	VelocityResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "velocity",
		Name:      "responses_total",
		Help:      "Velocity check responses by action and response.",
	}, []string{"action", "response"})

	// ScoringRuns counts scoring passes by result.
	ScoringRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "runs_total",
		Help:      "Scoring passes by result.",
	}, []string{"result"}) // "scored", "whitelisted", "failed"

	// ScoringDuration observes one user's scoring latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "duration_seconds",
		Help:      "Per-user scoring duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// TierChanges counts tier transitions by destination tier.
	TierChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "tier_changes_total",
		Help:      "Tier transitions by new tier.",
	}, []string{"tier"})

	// Escalations counts escalation outcomes.
	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escalation",
		Name:      "outcomes_total",
		Help:      "Escalation outcomes by kind.",
	}, []string{"outcome"}) // "created", "updated", "suspended", "resolved"

	// BusDropped counts messages dropped because a subscriber buffer was full.
	BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Messages dropped on full subscriber buffers by topic.",
	}, []string{"topic"})

	// CacheLookups counts advisory cache reads by layer and result.
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache reads by layer and hit/miss.",
	}, []string{"layer", "result"})

	// BusMessages counts messages handed to a transport and their handler results.
	BusMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Bus messages by topic and stage.",
	}, []string{"topic", "stage"}) // "published", "handled", "failed"

	// JobRuns counts scheduler job runs by job and result.
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduler job runs by job and result.",
	}, []string{"job", "result"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GateDecisions,
		VelocityResponses,
		ScoringRuns,
		ScoringDuration,
		TierChanges,
		Escalations,
		CacheLookups,
		BusDropped,
		BusMessages,
		JobRuns,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
