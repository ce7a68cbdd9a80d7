// Package loader fetches the review dataset, normalizes it and caches the
// decoded snapshot for a bounded window.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/remote"
)

// Options tunes a Loader. Zero values fall back to defaults.
type Options struct {
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	ProbeTimeout time.Duration
	Location     *time.Location
	Metrics      *Metrics
}

// Loader turns a Source into cached snapshots.
type Loader struct {
	source  Source
	cache   *expirable.LRU[string, *models.Snapshot]
	opts    Options
	metrics *Metrics
	now     func() time.Time
}

// New builds a Loader for source.
func New(source Source, opts Options) *Loader {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loader{
		source:  source,
		cache:   expirable.NewLRU[string, *models.Snapshot](1, nil, opts.CacheTTL),
		opts:    opts,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Source returns the underlying source.
func (l *Loader) Source() Source {
	return l.source
}

// Load downloads and decodes the dataset, replacing the cached snapshot.
// Malformed records fail the load with a *DataFormatError.
func (l *Loader) Load(ctx context.Context) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.FetchTimeout)
	defer cancel()

	start := l.now()
	blob, err := l.source.Fetch(ctx)
	if err != nil {
		l.metrics.IncFetch(remote.Label(err))
		if !remote.IsUnavailable(err) {
			err = remote.UnavailableError{Op: "fetch dataset", Err: err}
		}
		return nil, err
	}

	names, datasets, err := Decode(l.source.Format(), blob.Data)
	if err != nil {
		var formatErr *DataFormatError
		if errors.As(err, &formatErr) {
			l.metrics.IncFetch("data_format")
		} else {
			l.metrics.IncFetch("decode")
		}
		return nil, fmt.Errorf("load %s: %w", l.source, err)
	}
	l.metrics.ObserveFetch(l.now().Sub(start))
	l.metrics.IncFetch("ok")

	total := 0
	for _, ds := range datasets {
		total += ds.Len()
	}
	l.metrics.SetReviews(total)

	snap := &models.Snapshot{
		Names:        names,
		Datasets:     datasets,
		LastModified: l.normalize(blob.LastModified),
		LoadedAt:     l.normalize(l.now()),
	}
	l.cache.Add(l.source.String(), snap)

	slog.Info("dataset reloaded",
		slog.String("source", l.source.String()),
		slog.Int("restaurants", len(names)),
		slog.Int("reviews", total),
		slog.Time("last_modified", snap.LastModified),
	)
	return snap, nil
}

// Cached returns the cached snapshot, if it has not expired.
func (l *Loader) Cached() (*models.Snapshot, bool) {
	snap, ok := l.cache.Get(l.source.String())
	if ok {
		l.metrics.IncCacheHit()
	}
	return snap, ok
}

// LastModified probes the source's modification time in the configured zone.
func (l *Loader) LastModified(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ProbeTimeout)
	defer cancel()

	t, err := l.source.LastModified(ctx)
	if err != nil {
		l.metrics.IncProbe(remote.Label(err))
		if !remote.IsUnavailable(err) {
			err = remote.UnavailableError{Op: "probe dataset", Err: err}
		}
		return time.Time{}, err
	}
	l.metrics.IncProbe("ok")
	t = l.normalize(t)
	slog.Debug("live dataset last modified", slog.String("source", l.source.String()), slog.Time("last_modified", t))
	return t, nil
}

// Invalidate drops the cached snapshot so the next refresh reloads.
func (l *Loader) Invalidate() {
	l.cache.Remove(l.source.String())
}

func (l *Loader) normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(l.opts.Location)
}
