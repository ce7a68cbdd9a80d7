// Package session holds the per-user dashboard context: the loaded snapshot,
// the selected restaurant, filter selections and the tracked scrape job.
// Handlers mutate the context and View re-derives what to render.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/pipeline"
	"github.com/aluiziolira/reviewdash/scraper"
)

var (
	// ErrNoSnapshot means no dataset has been loaded yet; call Refresh.
	ErrNoSnapshot = errors.New("session: no dataset loaded")
	// ErrUnknownRestaurant means the name is not in the loaded dataset.
	ErrUnknownRestaurant = errors.New("session: unknown restaurant")
	// ErrNoSelection means an operation needs a selected restaurant.
	ErrNoSelection = errors.New("session: no restaurant selected")
	// ErrClosed is returned after the session was ended or evicted.
	ErrClosed = errors.New("session: closed")
)

// Dataset is the loader as seen by a session.
type Dataset interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Cached() (*models.Snapshot, bool)
	LastModified(ctx context.Context) (time.Time, error)
	Invalidate()
}

// Backend is the scrape backend as seen by a session.
type Backend interface {
	Submit(ctx context.Context, restaurant, location string, limit int) (string, error)
	Poll(ctx context.Context, jobID string) (scraper.Status, error)
	Analyze(ctx context.Context, restaurant string, reviews []models.Review) (*models.Analysis, error)
}

// Dashboard is the rendered state of a session.
type Dashboard struct {
	SessionID    string           `json:"session_id"`
	Restaurant   string           `json:"restaurant,omitempty"`
	NotFound     bool             `json:"not_found,omitempty"`
	LastModified time.Time        `json:"last_modified"`
	Restaurants  int              `json:"restaurants"`
	Search       string           `json:"search,omitempty"`
	Job          scraper.Job      `json:"job"`
	View         *pipeline.View   `json:"view,omitempty"`
	Analysis     *models.Analysis `json:"analysis,omitempty"`
	Notice       *scraper.Job     `json:"notice,omitempty"`
}

// Session is one user's dashboard context. Handlers serialize on an internal
// lock, so one session may be shared by concurrent requests.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	closed  bool
	data    Dataset
	backend Backend
	columns []filter.Column
	tracker *scraper.Tracker

	snapshot     *models.Snapshot
	stale        bool
	state        *filter.State
	selected     string
	notFound     string
	search       string
	includeEmpty bool
	analyses     map[string]*models.Analysis
	notice       *scraper.Job
}

func newSession(id string, data Dataset, backend Backend, columns []filter.Column, tracker *scraper.Tracker) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		data:         data,
		backend:      backend,
		columns:      columns,
		tracker:      tracker,
		state:        filter.NewState(),
		includeEmpty: true,
		analyses:     make(map[string]*models.Analysis),
	}
}

// Refresh makes sure the session holds the current dataset. The dataset is
// reloaded only when the remote copy is newer than the one held, or after a
// completed scrape job. A source that reports no modification time is
// reloaded once the loader cache expires.
func (s *Session) Refresh(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) (*models.Snapshot, error) {
	probed, err := s.data.LastModified(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case s.stale:
	case probed.IsZero():
		// undated source: the cached snapshot holds until the cache expires
		if cached, ok := s.data.Cached(); ok {
			s.adopt(cached)
			return cached, nil
		}
	case s.snapshot != nil && !probed.After(s.snapshot.LastModified):
		return s.snapshot, nil
	default:
		if cached, ok := s.data.Cached(); ok && !cached.LastModified.Before(probed) {
			s.adopt(cached)
			return cached, nil
		}
	}

	snap, err := s.data.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.adopt(snap)
	return snap, nil
}

func (s *Session) adopt(snap *models.Snapshot) {
	if s.snapshot != snap {
		slog.Debug("session dataset updated",
			slog.String("session", s.ID),
			slog.Time("last_modified", snap.LastModified),
		)
	}
	s.snapshot = snap
	s.stale = false
}

// Restaurants records the search term and returns the matching names in
// dataset order. Matching is a case-insensitive substring test; an empty
// term matches every name.
func (s *Session) Restaurants(search string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}

	s.search = search
	term := strings.ToLower(strings.TrimSpace(search))
	if term == "" {
		return append([]string(nil), s.snapshot.Names...), nil
	}
	var out []string
	for _, name := range s.snapshot.Names {
		if strings.Contains(strings.ToLower(name), term) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Select chooses the restaurant to display. Choosing a different restaurant
// clears the filters, since they were derived from the previous data.
func (s *Session) Select(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.snapshot == nil {
		return ErrNoSnapshot
	}
	if _, ok := s.snapshot.Dataset(name); !ok {
		s.notFound = name
		return fmt.Errorf("select %q: %w", name, ErrUnknownRestaurant)
	}
	if name != s.selected {
		s.state.Reset()
	}
	s.selected = name
	s.notFound = ""
	return nil
}

// SetIncludeEmpty toggles whether reviews without a description are shown.
func (s *Session) SetIncludeEmpty(include bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if include != s.includeEmpty {
		// classification depends on the input table, so derive it afresh
		s.state.Reset()
	}
	s.includeEmpty = include
	return nil
}

// SetCategories selects the allowed values of a categorical column.
func (s *Session) SetCategories(column string, values []string) error {
	return s.withState(func(st *filter.State) error {
		return st.SetCategories(column, values...)
	})
}

// SetRange requests an inclusive numeric range.
func (s *Session) SetRange(column string, lo, hi float64) error {
	return s.withState(func(st *filter.State) error {
		return st.SetRange(column, lo, hi)
	})
}

// SetMonthRange requests a month range given as labels, e.g. "Jan-2024".
func (s *Session) SetMonthRange(column, start, end string) error {
	return s.withState(func(st *filter.State) error {
		return st.SetMonthLabels(column, start, end)
	})
}

// SetPattern sets the pattern of a text column.
func (s *Session) SetPattern(column, pattern string) error {
	return s.withState(func(st *filter.State) error {
		return st.SetPattern(column, pattern)
	})
}

// withState runs fn against a state whose columns have been derived from the
// selected dataset.
func (s *Session) withState(fn func(*filter.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ds, err := s.selectedLocked()
	if err != nil {
		return err
	}
	if s.state.Len() < len(s.columns) {
		view, err := pipeline.Derive(ds, s.columns, s.state, s.includeEmpty)
		if err != nil {
			return err
		}
		s.state = view.State
	}
	return fn(s.state)
}

// ResetFilters clears every filter; defaults are derived on the next View.
func (s *Session) ResetFilters() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.state.Reset()
	return nil
}

// SubmitScrape asks the backend to scrape a restaurant and starts tracking
// the job. A second submission while one is in progress fails with
// scraper.ErrJobOutstanding without contacting the backend.
func (s *Session) SubmitScrape(ctx context.Context, restaurant, location string, limit int) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scraper.Job{}, ErrClosed
	}
	if s.tracker.Outstanding() {
		return s.tracker.Snapshot(), fmt.Errorf("submit %q: %w", restaurant, scraper.ErrJobOutstanding)
	}

	id, err := s.backend.Submit(ctx, restaurant, location, limit)
	if err != nil {
		return s.tracker.Snapshot(), err
	}
	if err := s.tracker.Begin(id, scraper.BusinessName(restaurant, location)); err != nil {
		return s.tracker.Snapshot(), err
	}
	s.notice = nil
	return s.tracker.Snapshot(), nil
}

// PollJob asks the backend for the status of the tracked job. A completed
// job invalidates the dataset cache so the next View reloads. Failing to
// reach the backend leaves the job in progress.
func (s *Session) PollJob(ctx context.Context) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scraper.Job{}, ErrClosed
	}
	if err := s.pollLocked(ctx); err != nil {
		return s.tracker.Snapshot(), err
	}
	return s.tracker.Snapshot(), nil
}

func (s *Session) pollLocked(ctx context.Context) error {
	if !s.tracker.Outstanding() {
		return nil
	}
	status, err := s.backend.Poll(ctx, s.tracker.JobID())
	if err != nil {
		slog.Warn("job poll failed",
			slog.String("session", s.ID),
			slog.String("job_id", s.tracker.JobID()),
			slog.Any("error", err),
		)
		return err
	}
	if !s.tracker.Observe(status) {
		return nil
	}
	job := s.tracker.Snapshot()
	slog.Info("scrape job finished",
		slog.String("session", s.ID),
		slog.String("job_id", job.ID),
		slog.String("status", status.String()),
	)
	if status.State == scraper.StateCompleted {
		s.data.Invalidate()
		s.stale = true
	}
	return nil
}

// AcknowledgeJob surfaces a finished job once and returns the tracker to
// Ready. It reports false when no finished job is waiting.
func (s *Session) AcknowledgeJob() (scraper.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.tracker.Acknowledge()
	if ok {
		s.notice = nil
	}
	return job, ok
}

// Job returns the tracked job without polling.
func (s *Session) Job() scraper.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Snapshot()
}

// Analyze asks the backend to summarize the currently filtered reviews of
// the selected restaurant. The result is kept for later views.
func (s *Session) Analyze(ctx context.Context) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ds, err := s.selectedLocked()
	if err != nil {
		return nil, err
	}
	view, err := pipeline.Derive(ds, s.columns, s.state, s.includeEmpty)
	if err != nil {
		return nil, err
	}
	s.state = view.State

	analysis, err := s.backend.Analyze(ctx, ds.Name, view.Reviews)
	if err != nil {
		return nil, err
	}
	s.analyses[ds.Name] = analysis
	return analysis, nil
}

// View refreshes the dataset, then filters and aggregates the selected
// restaurant. A terminal job status is surfaced once in Dashboard.Notice
// and acknowledged. A View that fails leaves the job unacknowledged.
func (s *Session) View(ctx context.Context) (*Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	d, err := s.dashboardLocked(ctx)
	if err != nil {
		return nil, err
	}

	s.notice = nil
	if s.tracker.Status().Terminal() {
		if job, ok := s.tracker.Acknowledge(); ok {
			s.notice = &job
		}
	}
	d.Job = s.tracker.Snapshot()
	d.Notice = s.notice
	return d, nil
}

func (s *Session) dashboardLocked(ctx context.Context) (*Dashboard, error) {
	snap, err := s.refreshLocked(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		SessionID:    s.ID,
		LastModified: snap.LastModified,
		Restaurants:  len(snap.Names),
		Search:       s.search,
	}
	if s.notFound != "" {
		d.Restaurant = s.notFound
		d.NotFound = true
		return d, nil
	}
	if s.selected == "" {
		return d, nil
	}

	ds, ok := snap.Dataset(s.selected)
	if !ok {
		d.Restaurant = s.selected
		d.NotFound = true
		return d, nil
	}
	view, err := pipeline.Derive(ds, s.columns, s.state, s.includeEmpty)
	if err != nil {
		return nil, err
	}
	s.state = view.State

	d.Restaurant = ds.Name
	d.View = view
	d.Analysis = s.analyses[ds.Name]
	return d, nil
}

// PollInterval is how long a client should wait before polling the job.
func (s *Session) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.PollInterval()
}

func (s *Session) selectedLocked() (*models.RestaurantDataset, error) {
	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	if s.selected == "" {
		return nil, ErrNoSelection
	}
	ds, ok := s.snapshot.Dataset(s.selected)
	if !ok {
		return nil, fmt.Errorf("%q: %w", s.selected, ErrUnknownRestaurant)
	}
	return ds, nil
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snapshot = nil
	s.analyses = nil
}
