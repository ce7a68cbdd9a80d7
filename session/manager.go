package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/scraper"
)

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	TTL            time.Duration
	MaxSessions    int
	Columns        []filter.Column
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	Metrics        *Metrics
}

// Manager owns the live sessions. Sessions idle for longer than the TTL, or
// pushed out when more than MaxSessions exist, are closed.
type Manager struct {
	data     Dataset
	backend  Backend
	opts     Options
	sessions *expirable.LRU[string, *Session]
	metrics  *Metrics
}

// NewManager builds a manager whose sessions share data and backend.
func NewManager(data Dataset, backend Backend, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 256
	}
	if len(opts.Columns) == 0 {
		opts.Columns = filter.DefaultColumns()
	}

	m := &Manager{data: data, backend: backend, opts: opts, metrics: opts.Metrics}
	m.sessions = expirable.NewLRU[string, *Session](opts.MaxSessions, m.onEvict, opts.TTL)
	return m
}

// onEvict runs with the cache lock held; it must not call back into
// m.sessions.
func (m *Manager) onEvict(id string, s *Session) {
	s.close()
	m.metrics.SessionEnded()
	slog.Info("session ended", slog.String("session", id), slog.Duration("age", time.Since(s.CreatedAt)))
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.data, m.backend, m.opts.Columns,
		scraper.NewTracker(m.opts.ActiveInterval, m.opts.IdleInterval))
	m.sessions.Add(s.ID, s)
	m.metrics.SessionStarted()
	slog.Debug("session started", slog.String("session", s.ID))
	return s
}

// Get returns a live session and renews its TTL.
func (m *Manager) Get(id string) (*Session, bool) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	// re-adding restarts the expiry window
	m.sessions.Add(id, s)
	return s, true
}

// Delete ends a session. It reports whether the session existed.
func (m *Manager) Delete(id string) bool {
	return m.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Close ends every session.
func (m *Manager) Close() {
	m.sessions.Purge()
}

// Metrics bundles Prometheus collectors for sessions.
type Metrics struct {
	Registry     *prometheus.Registry
	Active       prometheus.Gauge
	CreatedTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reviewdash_sessions_active",
		Help: "Number of live dashboard sessions.",
	})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reviewdash_sessions_created_total",
		Help: "Total number of sessions started.",
	})
	registry.MustRegister(active, created)

	return &Metrics{Registry: registry, Active: active, CreatedTotal: created}
}

// SessionStarted counts a new live session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.CreatedTotal.Inc()
	m.Active.Inc()
}

// SessionEnded counts a closed session.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.Active.Dec()
}
