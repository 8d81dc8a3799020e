package emit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the counters and histogram the handler updates as
// requests move through the core, namespaced "gateway_streamer".
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec
}

// NewMetrics registers every metric with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for isolation in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway_streamer",
			Name:      "requests_total",
			Help:      "Requests dispatched per deployment",
		}, []string{"deployment"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway_streamer",
			Name:      "errors_total",
			Help:      "Requests that returned status=ERROR, per deployment",
		}, []string{"deployment", "reason"}),
		latencyMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway_streamer",
			Name:      "dispatch_latency_ms",
			Help:      "Per-node dispatch latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"deployment", "status"}),
	}
}

// RecordDispatch increments requests_total and the latency histogram for
// one deployment dispatch.
func (m *Metrics) RecordDispatch(deployment, status string, latencyMs float64) {
	m.requestsTotal.WithLabelValues(deployment).Inc()
	m.latencyMs.WithLabelValues(deployment, status).Observe(latencyMs)
}

// RecordError increments errors_total for a deployment/reason pair.
func (m *Metrics) RecordError(deployment, reason string) {
	m.errorsTotal.WithLabelValues(deployment, reason).Inc()
}
