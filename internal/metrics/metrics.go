// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamErrors    *prometheus.CounterVec

	RejectedRequests *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corsproxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corsproxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corsproxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corsproxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corsproxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corsproxy_upstream_errors_total",
			Help: "Upstream calls that failed before a status was received.",
		}, []string{"method"}),

		RejectedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corsproxy_rejected_requests_total",
			Help: "Proxy requests rejected before any upstream call, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamErrors,
		m.RejectedRequests,
	)

	return m
}

// The Observe and Reject helpers are no-ops on a nil *Metrics, which is what
// callers hold when metrics are disabled.

// ObserveUpstream records an upstream call that produced a response.
func (m *Metrics) ObserveUpstream(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	method = NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	m.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveUpstreamError records an upstream call that failed before any status arrived.
func (m *Metrics) ObserveUpstreamError(method string, d time.Duration) {
	if m == nil {
		return
	}
	method = NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(method).Observe(d.Seconds())
	m.UpstreamErrors.WithLabelValues(method).Inc()
}

// Reject counts a proxy request refused before any upstream call.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.RejectedRequests.WithLabelValues(reason).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// More specific prefixes come first.
var knownPrefixes = []string{"/proxy/ping", "/proxy", "/healthz", "/status"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
