package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/loader"
	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/remote"
	"github.com/aluiziolira/reviewdash/scraper"
)

const backendURL = "http://backend.test"

const firstDataset = `{
  "Zam Zam": [
    {"DateOfReview": "2024-03-10", "StarRating": 5, "ReviewDescription": "Murtabak was great"},
    {"DateOfReview": "2024-02-02", "StarRating": 5, "ReviewDescription": "nil"},
    {"DateOfReview": "2024-01-15", "StarRating": 4, "ReviewDescription": "Busy but fast"},
    {"DateOfReview": "2024-01-05", "StarRating": 3, "ReviewDescription": "Too salty"}
  ],
  "49 Seats": [
    {"DateOfReview": "2023-12-31", "StarRating": 4, "ReviewDescription": "Good pasta"}
  ]
}`

const secondDataset = `{
  "Zam Zam": [
    {"DateOfReview": "2024-03-10", "StarRating": 5, "ReviewDescription": "Murtabak was great"}
  ],
  "49 Seats": [
    {"DateOfReview": "2023-12-31", "StarRating": 4, "ReviewDescription": "Good pasta"}
  ],
  "Haidilao": [
    {"DateOfReview": "2024-04-01", "StarRating": 5, "ReviewDescription": "Hotpot heaven"}
  ]
}`

type fixture struct {
	path      string
	modTime   time.Time
	loader    *loader.Loader
	transport *httpmock.MockTransport
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reviews.json")
	require.NoError(t, os.WriteFile(path, []byte(firstDataset), 0o644))
	modTime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, modTime, modTime))

	l := loader.New(loader.NewFileSource(path), loader.Options{CacheTTL: time.Hour})

	client, err := scraper.NewClient(backendURL, scraper.Options{PollTimeout: time.Second})
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	client.WithTransport(transport)

	m := NewManager(l, client, Options{Metrics: NewMetrics()})
	t.Cleanup(m.Close)

	return &fixture{path: path, modTime: modTime, loader: l, transport: transport, manager: m}
}

// rewrite replaces the dataset file and sets its modification time.
func (f *fixture) rewrite(t *testing.T, body string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(f.path, modTime, modTime))
}

func (f *fixture) respondSubmit(id string) {
	f.transport.RegisterResponder(http.MethodPost, backendURL+"/scrape",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]string{"request_id": id}))
}

func (f *fixture) respondStatus(id, status string) {
	f.transport.RegisterResponder(http.MethodGet, backendURL+"/status/"+id,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]string{"status": status}))
}

func decodeJSONBody(req *http.Request, v any) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(v)
}

func TestRefreshReloadsOnlyWhenNewer(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()
	ctx := context.Background()

	first, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Zam Zam", "49 Seats"}, first.Names)

	again, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged source should not reload")

	// same mtime: the content change is invisible to the probe
	f.rewrite(t, secondDataset, f.modTime)
	same, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, first, same)

	f.rewrite(t, secondDataset, f.modTime.Add(time.Minute))
	newer, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, newer)
	assert.Equal(t, []string{"Zam Zam", "49 Seats", "Haidilao"}, newer.Names)
}

func TestRefreshSharesCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.manager.Create()
	b := f.manager.Create()

	snapA, err := a.Refresh(ctx)
	require.NoError(t, err)
	snapB, err := b.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, snapA, snapB, "second session should reuse the cached snapshot")
}

func TestRestaurantsSearchIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()

	_, err := s.Restaurants("")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)

	names, err := s.Restaurants("zAm")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zam Zam"}, names)

	names, err = s.Restaurants("  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zam Zam", "49 Seats"}, names)

	names, err = s.Restaurants("sushi")
	require.NoError(t, err)
	assert.Empty(t, names)

	d, err := s.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sushi", d.Search)
}

func TestSelectUnknownRestaurantIsNotFound(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()
	ctx := context.Background()
	_, err := s.Refresh(ctx)
	require.NoError(t, err)

	err = s.Select("zam zam")
	assert.ErrorIs(t, err, ErrUnknownRestaurant, "lookup is exact")

	d, err := s.View(ctx)
	require.NoError(t, err)
	assert.True(t, d.NotFound)
	assert.Equal(t, "zam zam", d.Restaurant)
	assert.Nil(t, d.View)

	require.NoError(t, s.Select("Zam Zam"))
	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.False(t, d.NotFound)
	require.NotNil(t, d.View)
	assert.Equal(t, 4, d.View.Totals.Total)
}

// undatedDataset reports no modification time, like an HTTP endpoint that
// omits Last-Modified. Invalidate stands in for cache expiry.
type undatedDataset struct {
	loads  int
	cached *models.Snapshot
}

func (d *undatedDataset) Load(context.Context) (*models.Snapshot, error) {
	d.loads++
	d.cached = &models.Snapshot{Names: []string{"Zam Zam"}, LoadedAt: time.Now()}
	return d.cached, nil
}

func (d *undatedDataset) Cached() (*models.Snapshot, bool) {
	return d.cached, d.cached != nil
}

func (d *undatedDataset) LastModified(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (d *undatedDataset) Invalidate() {
	d.cached = nil
}

func TestRefreshUndatedSourceFollowsCache(t *testing.T) {
	data := &undatedDataset{}
	m := NewManager(data, nil, Options{})
	t.Cleanup(m.Close)
	s := m.Create()
	ctx := context.Background()

	first, err := s.Refresh(ctx)
	require.NoError(t, err)
	again, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, data.loads)

	data.Invalidate()
	reloaded, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, reloaded)
	assert.Equal(t, 2, data.loads)
}

func TestViewAppliesFiltersAndToggle(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()
	ctx := context.Background()
	_, err := s.Refresh(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Select("Zam Zam"))

	d, err := s.View(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4.25, d.View.Filtered.Mean, 1e-9)

	require.NoError(t, s.SetIncludeEmpty(false))
	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.View.Filtered.Total)
	assert.InDelta(t, 4.0, d.View.Filtered.Mean, 1e-9)

	require.NoError(t, s.SetRange(filter.ColumnStarRating, 4, 5))
	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.View.Filtered.Total)
	assert.Equal(t, 4, d.View.Totals.Total, "totals ignore filters")

	require.NoError(t, s.ResetFilters())
	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.View.Filtered.Total)
}

func TestMonthRangeOnFewMonths(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()
	ctx := context.Background()
	_, err := s.Refresh(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Select("Zam Zam"))

	require.NoError(t, s.SetMonthRange(filter.ColumnMonth, "Jan-2024", "Feb-2024"))
	d, err := s.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, d.View)
	assert.Equal(t, 3, d.View.Filtered.Total)
	assert.Equal(t, 4, d.View.Totals.Total)
}

func TestFilterSettersNeedSelection(t *testing.T) {
	f := newFixture(t)
	s := f.manager.Create()

	err := s.SetPattern(filter.ColumnDescription, "great")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	err = s.SetPattern(filter.ColumnDescription, "great")
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestSecondSubmitIsRejectedWithoutBackendCall(t *testing.T) {
	f := newFixture(t)
	f.respondSubmit("job-1")
	s := f.manager.Create()
	ctx := context.Background()

	job, err := s.SubmitScrape(ctx, "Zam Zam", "Bugis", 100)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "Zam Zam - Bugis", job.Restaurant)
	assert.Equal(t, "In Progress", job.Status)

	_, err = s.SubmitScrape(ctx, "49 Seats", "", 100)
	assert.ErrorIs(t, err, scraper.ErrJobOutstanding)
	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.Equal(t, scraper.DefaultActiveInterval, s.PollInterval())
}

func TestPollFailureKeepsJobInProgress(t *testing.T) {
	f := newFixture(t)
	f.respondSubmit("job-1")
	f.transport.RegisterResponder(http.MethodGet, backendURL+"/status/job-1",
		httpmock.NewErrorResponder(errors.New("connection refused")))
	s := f.manager.Create()
	ctx := context.Background()

	_, err := s.SubmitScrape(ctx, "Zam Zam", "", 10)
	require.NoError(t, err)

	job, err := s.PollJob(ctx)
	require.Error(t, err)
	assert.True(t, remote.IsUnavailable(err))
	assert.Equal(t, "In Progress", job.Status)

	f.transport.RegisterResponder(http.MethodGet, backendURL+"/status/job-1",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))
	job, err = s.PollJob(ctx)
	require.Error(t, err)
	assert.Equal(t, "In Progress", job.Status)
}

func TestFailedJobCarriesReason(t *testing.T) {
	f := newFixture(t)
	f.respondSubmit("job-1")
	f.respondStatus("job-1", "Failed: business not found")
	s := f.manager.Create()
	ctx := context.Background()

	_, err := s.SubmitScrape(ctx, "Nowhere", "", 10)
	require.NoError(t, err)
	job, err := s.PollJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Failed", job.Status)
	assert.Equal(t, "business not found", job.Reason)

	acked, ok := s.AcknowledgeJob()
	require.True(t, ok)
	assert.Equal(t, "job-1", acked.ID)
	assert.Equal(t, "Ready", s.Job().Status)

	_, ok = s.AcknowledgeJob()
	assert.False(t, ok)
}

func TestCompletedJobReloadsDatasetAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.respondSubmit("job-1")
	f.respondStatus("job-1", "In Progress")
	s := f.manager.Create()
	ctx := context.Background()

	first, err := s.Refresh(ctx)
	require.NoError(t, err)

	_, err = s.SubmitScrape(ctx, "Haidilao", "", 50)
	require.NoError(t, err)
	job, err := s.PollJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", job.Status)

	// the backend rewrote the dataset but the probe cannot tell
	f.rewrite(t, secondDataset, f.modTime)
	f.respondStatus("job-1", "Completed")
	job, err = s.PollJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Completed", job.Status)
	_, cached := f.loader.Cached()
	assert.False(t, cached, "completion should invalidate the cache")

	d, err := s.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, d.Notice)
	assert.Equal(t, "Completed", d.Notice.Status)
	assert.Equal(t, "Ready", d.Job.Status)
	assert.Equal(t, 3, d.Restaurants)

	snap, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, snap)

	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.Nil(t, d.Notice, "notice is surfaced once")
}

func TestCompletionSurvivesFailedView(t *testing.T) {
	f := newFixture(t)
	f.respondSubmit("job-1")
	f.respondStatus("job-1", "Completed")
	s := f.manager.Create()
	ctx := context.Background()

	_, err := s.Refresh(ctx)
	require.NoError(t, err)
	_, err = s.SubmitScrape(ctx, "Haidilao", "", 50)
	require.NoError(t, err)
	job, err := s.PollJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "Completed", job.Status)

	moved := f.path + ".moved"
	require.NoError(t, os.Rename(f.path, moved))
	_, err = s.View(ctx)
	require.Error(t, err)
	assert.True(t, remote.IsUnavailable(err))
	assert.Equal(t, "Completed", s.Job().Status, "a failed view must not acknowledge the job")

	require.NoError(t, os.Rename(moved, f.path))
	d, err := s.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, d.Notice)
	assert.Equal(t, "Completed", d.Notice.Status)
	assert.Equal(t, "Ready", d.Job.Status)

	d, err = s.View(ctx)
	require.NoError(t, err)
	assert.Nil(t, d.Notice)
}

func TestAnalyzeSendsFilteredReviews(t *testing.T) {
	f := newFixture(t)
	var got struct {
		Restaurant string           `json:"res_name"`
		Reviews    []map[string]any `json:"reviews"`
	}
	f.transport.RegisterResponder(http.MethodPost, backendURL+"/analyze", func(req *http.Request) (*http.Response, error) {
		if err := decodeJSONBody(req, &got); err != nil {
			return nil, err
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"summary": "Loved for murtabak",
			"pros":    []string{"food"},
			"cons":    "salty",
		})
	})
	s := f.manager.Create()
	ctx := context.Background()

	_, err := s.Analyze(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.Refresh(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Select("Zam Zam"))
	require.NoError(t, s.SetRange(filter.ColumnStarRating, 5, 5))

	analysis, err := s.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Loved for murtabak", analysis.Summary)
	assert.Equal(t, []string{"salty"}, []string(analysis.Cons))
	assert.Equal(t, "Zam Zam", got.Restaurant)
	assert.Len(t, got.Reviews, 2)

	d, err := s.View(ctx)
	require.NoError(t, err)
	assert.Same(t, analysis, d.Analysis)
}

func TestManagerEvictionClosesSession(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.loader, nil, Options{MaxSessions: 1})

	a := m.Create()
	b := m.Create()
	assert.Equal(t, 1, m.Len())

	_, ok := m.Get(a.ID)
	assert.False(t, ok)
	_, err := a.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	got, ok := m.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.True(t, m.Delete(b.ID))
	assert.False(t, m.Delete(b.ID))
	_, err = b.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.loader, nil, Options{TTL: 20 * time.Millisecond})

	s := m.Create()
	time.Sleep(80 * time.Millisecond)

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}
