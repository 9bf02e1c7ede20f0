package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "sarjproxy"

// Upstream call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeBadStatus   = "bad_status"
	OutcomeTimeout     = "timeout"
	OutcomeUnreachable = "unreachable"
	OutcomeError       = "error"
)

// ProxyMetrics holds Prometheus counters for proxy outcomes.
// A nil *ProxyMetrics is valid and records nothing.
type ProxyMetrics struct {
	registry         *prometheus.Registry
	upstreamRequests *prometheus.CounterVec
	availability     *prometheus.CounterVec
}

// NewProxyMetrics creates the counters on a dedicated registry that also
// carries the Go runtime and process collectors.
func NewProxyMetrics() *ProxyMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ProxyMetrics{
		registry: reg,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_requests_total",
			Help:      "Outbound upstream requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "availability_resolutions_total",
			Help:      "Socket availability resolutions by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.upstreamRequests, m.availability)

	return m
}

// ObserveUpstream counts one upstream call.
func (m *ProxyMetrics) ObserveUpstream(provider, outcome string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveAvailability counts one availability resolution.
func (m *ProxyMetrics) ObserveAvailability(reason string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(reason).Inc()
}

// Handler returns the scrape handler for the metrics registry.
func (m *ProxyMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
