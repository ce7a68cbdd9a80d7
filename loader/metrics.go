package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for dataset loading.
type Metrics struct {
	Registry       *prometheus.Registry
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	ProbesTotal    *prometheus.CounterVec
	ReviewsLoaded  prometheus.Gauge
	CacheHitsTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewdash_dataset_fetches_total",
			Help: "Dataset downloads by result.",
		},
		[]string{"result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reviewdash_dataset_fetch_duration_seconds",
			Help:    "Latency of dataset download and decode.",
			Buckets: prometheus.DefBuckets,
		},
	)
	probes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewdash_dataset_probes_total",
			Help: "Freshness probes by result.",
		},
		[]string{"result"},
	)
	reviews := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewdash_dataset_reviews",
			Help: "Reviews in the most recently loaded snapshot.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewdash_dataset_cache_hits_total",
			Help: "Snapshot reads served from cache.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, probes, reviews, cacheHits)

	return &Metrics{
		Registry:       registry,
		FetchesTotal:   fetches,
		FetchDuration:  fetchDuration,
		ProbesTotal:    probes,
		ReviewsLoaded:  reviews,
		CacheHitsTotal: cacheHits,
	}
}

// IncFetch increments the fetch counter for a result label.
func (m *Metrics) IncFetch(result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncProbe increments the probe counter for a result label.
func (m *Metrics) IncProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

// SetReviews records the size of the loaded snapshot.
func (m *Metrics) SetReviews(n int) {
	if m == nil {
		return
	}
	m.ReviewsLoaded.Set(float64(n))
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}
