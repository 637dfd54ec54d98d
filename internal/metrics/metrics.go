// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request and time-to-headers latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Stream durations run far longer than API calls.
var streamBuckets = []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	OriginDuration  prometheus.Histogram
	OriginResponses *prometheus.CounterVec
	RelayErrors     *prometheus.CounterVec
	BytesRelayed    prometheus.Counter

	WebhookDeliveries *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "video_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration in seconds, including streaming.",
			Buckets: streamBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "video_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		OriginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "video_proxy_origin_response_seconds",
			Help:    "Time until the origin returned response headers, in seconds.",
			Buckets: defaultBuckets,
		}),

		OriginResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_proxy_origin_responses_total",
			Help: "Total origin responses by status code.",
		}, []string{"status_code"}),

		RelayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_proxy_relay_errors_total",
			Help: "Relay failures answered with 500, by reason.",
		}, []string{"reason"}),

		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "video_proxy_relayed_bytes_total",
			Help: "Total media bytes streamed to clients.",
		}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_proxy_webhook_deliveries_total",
			Help: "Audit webhook posts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.OriginDuration,
		m.OriginResponses,
		m.RelayErrors,
		m.BytesRelayed,
		m.WebhookDeliveries,
	)

	return m
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
var knownPrefixes = []string{"/api/proxy", "/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Matching is case-insensitive so /api/Proxy shares a label with /api/proxy.
func NormalizePath(path string) string {
	lower := strings.ToLower(path)
	for _, prefix := range knownPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+"/") || strings.HasPrefix(lower, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
