package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ModelInvocationsTotal   *prometheus.CounterVec
	ModelInvocationDuration *prometheus.HistogramVec
	StreamChunksTotal       prometheus.Counter

	TrimmedMessagesTotal prometheus.Counter
	Threads              prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parrot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parrot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "parrot_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	m.ModelInvocationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parrot_model_invocations_total",
			Help: "Total number of model invocations",
		},
		[]string{"mode", "status"},
	)

	m.ModelInvocationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parrot_model_invocation_duration_seconds",
			Help:    "Duration of model invocations in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	m.StreamChunksTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "parrot_stream_chunks_total",
			Help: "Total number of AI chunks delivered to streaming clients",
		},
	)

	m.TrimmedMessagesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "parrot_trimmed_messages_total",
			Help: "Total number of history messages dropped to fit the token budget",
		},
	)

	m.Threads = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "parrot_threads",
			Help: "Number of conversation threads held by the store",
		},
	)

	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordModelInvocation records one blocking or streaming model call.
func (m *Metrics) RecordModelInvocation(mode string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelInvocationsTotal.WithLabelValues(mode, status).Inc()
	m.ModelInvocationDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
