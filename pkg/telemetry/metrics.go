// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing
// for SDK internals. Metrics are registered on the default registry under
// the "tiation" namespace; embedders that already expose /metrics get SDK
// visibility for free.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Total API requests by service, operation, and status code",
		},
		[]string{"service", "operation", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiation",
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"service", "operation"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Total request retries by service",
		},
		[]string{"service"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "transport",
			Name:      "rate_limit_hits_total",
			Help:      "Total 429 responses received from the API",
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiation",
			Subsystem: "transport",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Realtime metrics
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiation",
			Subsystem: "realtime",
			Name:      "active_subscriptions",
			Help:      "Number of active realtime channel subscriptions",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Total realtime connection re-establishments",
		},
	)

	RealtimeEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Total realtime events received by channel",
		},
		[]string{"channel"},
	)

	// Analytics spool metrics
	SpooledEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiation",
			Subsystem: "spool",
			Name:      "pending_events",
			Help:      "Number of analytics events buffered locally",
		},
	)

	SpoolFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "spool",
			Name:      "flushes_total",
			Help:      "Total spool flush attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Webhook metrics
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiation",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total webhook deliveries received by outcome",
		},
		[]string{"outcome"},
	)
)
