package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the backend client.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	JobStatusTotal  *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewdash_backend_requests_total",
			Help: "Total requests issued to the scrape backend.",
		},
		[]string{"endpoint"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewdash_backend_request_duration_seconds",
			Help:    "Latency of scrape backend requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	jobStatus := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewdash_job_status_total",
			Help: "Job statuses observed by polling.",
		},
		[]string{"status"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewdash_backend_errors_total",
			Help: "Total number of backend errors by type.",
		},
		[]string{"endpoint", "error_type"},
	)

	registry.MustRegister(requests, requestDuration, jobStatus, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		JobStatusTotal:  jobStatus,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests counter for an endpoint.
func (m *Metrics) IncRequest(endpoint string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncStatus counts a polled job state.
func (m *Metrics) IncStatus(state State) {
	if m == nil {
		return
	}
	m.JobStatusTotal.WithLabelValues(state.String()).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(endpoint, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}
