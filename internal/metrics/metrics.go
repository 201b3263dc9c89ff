// Package metrics defines the Prometheus collectors for the proxy core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// AttemptBuckets defines histogram buckets suited for LLM inference
// latencies, ranging from 100ms to 120s.
var AttemptBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RouteDecisions counts routing decisions by strategy and selected provider.
	RouteDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_decisions_total",
			Help: "Total routing decisions made",
		},
		[]string{"strategy", "selected_provider"},
	)

	// RateLimitsDetected counts detected rate limits. limit_type is
	// "active" (429 observed) or "approaching" (window heuristic).
	RateLimitsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limits_detected_total",
			Help: "Total rate limits detected",
		},
		[]string{"provider", "limit_type"},
	)

	// FallbackAttempts counts fallback attempts between providers.
	FallbackAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_attempts_total",
			Help: "Total fallback attempts",
		},
		[]string{"from_provider", "to_provider", "outcome"},
	)

	// ProviderHealthScore tracks the derived 0-1 health score per provider.
	ProviderHealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_health_score",
			Help: "Provider health score (0-1)",
		},
		[]string{"provider"},
	)

	// AttemptDuration records upstream attempt duration in seconds.
	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_attempt_duration_seconds",
			Help:    "Upstream attempt duration",
			Buckets: AttemptBuckets,
		},
		[]string{"provider", "model", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RouteDecisions,
		RateLimitsDetected,
		FallbackAttempts,
		ProviderHealthScore,
		AttemptDuration,
	)
}
