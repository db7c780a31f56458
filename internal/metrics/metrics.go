// Package metrics registers the runtime's observability surface onto a
// prometheus registry. It is the runtime's one process-wide singleton,
// constructed once by Application wiring and passed by reference to every
// component that needs it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the runtime records. Fields are exported
// so components can record directly without a facade per call site.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth            prometheus.Gauge
	QueueLatencySeconds   prometheus.Histogram
	CommandInvocations    *prometheus.CounterVec
	DLQBacklog            prometheus.Gauge
	RateLimiterWaitSeconds *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec
	MessagesDropped       *prometheus.CounterVec
}

// New constructs a fresh registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of items in the bounded ingestion queue.",
		}),
		QueueLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_latency_seconds",
			Help:    "Time between enqueue and dequeue of an item.",
			Buckets: prometheus.DefBuckets,
		}),
		CommandInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "command_invocations_total",
			Help: "Number of times a command handler was invoked.",
		}, []string{"command"}),
		DLQBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlq_backlog",
			Help: "Current number of entries parked in the dead letter queue.",
		}),
		RateLimiterWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token, per resource.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per resource: 0 closed, 1 half_open, 2 open.",
		}, []string{"resource"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_dropped_total",
			Help: "Number of messages dropped by the ingestion queue, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.QueueDepth,
		r.QueueLatencySeconds,
		r.CommandInvocations,
		r.DLQBacklog,
		r.RateLimiterWaitSeconds,
		r.CircuitBreakerState,
		r.MessagesDropped,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for the admin HTTP
// surface's /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// BreakerStateValue maps the breaker's textual state to its gauge encoding.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
