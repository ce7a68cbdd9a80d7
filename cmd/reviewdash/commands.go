package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/reviewdash/filter"
	"github.com/aluiziolira/reviewdash/models"
	"github.com/aluiziolira/reviewdash/pipeline"
	"github.com/aluiziolira/reviewdash/remote"
	"github.com/aluiziolira/reviewdash/scraper"
	"github.com/aluiziolira/reviewdash/server"
	"github.com/aluiziolira/reviewdash/session"
)

// ServeCommand runs the HTTP server.
type ServeCommand struct {
	Listen      string `long:"listen" description:"HTTP listen address"`
	MetricsAddr string `long:"metrics-addr" description:"Separate Prometheus listen address (e.g. :9090)"`

	globals *GlobalFlags
}

// FilterFlags select the rows of a restaurant.
type FilterFlags struct {
	MinRating    int    `long:"min-rating" description:"Lowest star rating to keep"`
	MaxRating    int    `long:"max-rating" description:"Highest star rating to keep"`
	Start        string `long:"start" description:"First month to keep, e.g. Jan-2024"`
	End          string `long:"end" description:"Last month to keep, e.g. Mar-2024"`
	Pattern      string `long:"pattern" description:"Regular expression matched against review text"`
	ExcludeEmpty bool   `long:"exclude-empty" description:"Drop reviews without a description"`
}

// ViewCommand prints one restaurant's dashboard.
type ViewCommand struct {
	Restaurant string `short:"r" long:"restaurant" description:"Restaurant to show"`
	Search     string `short:"s" long:"search" description:"List restaurants matching a search term"`
	JSON       bool   `long:"json" description:"Print the dashboard as JSON"`
	Analyze    bool   `long:"analyze" description:"Ask the backend to summarize the filtered reviews"`
	FilterFlags

	globals *GlobalFlags
}

// ScrapeCommand submits a scrape job.
type ScrapeCommand struct {
	Restaurant string `short:"r" long:"restaurant" description:"Restaurant to scrape" required:"true"`
	Location   string `short:"l" long:"location" description:"Branch location"`
	Limit      int    `long:"limit" description:"Maximum number of reviews to scrape"`
	Wait       bool   `short:"w" long:"wait" description:"Poll until the job finishes"`

	globals *GlobalFlags
}

// ExportCommand writes reviews to a file.
type ExportCommand struct {
	Restaurant string `short:"r" long:"restaurant" description:"Restaurant to export; every restaurant when empty"`
	Output     string `short:"o" long:"output" description:"Output file path" default:"reviews.csv"`
	Format     string `long:"format" description:"Output format: csv, jsonl, or dual" default:"csv"`
	FilterFlags

	globals *GlobalFlags
}

// RemoveCommand deletes stored reviews on the backend.
type RemoveCommand struct {
	Restaurant string `short:"r" long:"restaurant" description:"Restaurant whose reviews are removed" required:"true"`

	globals *GlobalFlags
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *ServeCommand) Execute(_ []string) error {
	cfg, err := c.globals.setup()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.ListenAddr = c.Listen
	}
	if c.MetricsAddr != "" {
		cfg.MetricsAddr = c.MetricsAddr
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	sessionMetrics := session.NewMetrics()
	manager := session.NewManager(a.loader, a.client, session.Options{
		TTL:            cfg.SessionTTL,
		MaxSessions:    cfg.MaxSessions,
		ActiveInterval: cfg.ActivePollInterval,
		IdleInterval:   cfg.IdlePollInterval,
		Metrics:        sessionMetrics,
	})
	defer manager.Close()

	serverMetrics := server.NewMetrics()
	gatherers := prometheus.Gatherers{a.loaderMetrics.Registry, a.clientMetrics.Registry, sessionMetrics.Registry}
	srv := server.New(manager, server.Options{
		DefaultReviewLimit: cfg.DefaultReviewLimit,
		Gatherers:          gatherers,
		Metrics:            serverMetrics,
	})
	startMetricsServer(ctx, cfg.MetricsAddr, append(gatherers, serverMetrics.Registry))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("dashboard listening",
		slog.String("addr", cfg.ListenAddr),
		slog.String("source", a.loader.Source().String()),
		slog.String("backend", cfg.BackendURL),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight requests to finish")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// apply pushes the filter flags into a session with a selected restaurant.
func (f FilterFlags) apply(s *session.Session) error {
	if f.ExcludeEmpty {
		if err := s.SetIncludeEmpty(false); err != nil {
			return err
		}
	}
	if f.MinRating != 0 || f.MaxRating != 0 {
		lo, hi := float64(f.MinRating), float64(f.MaxRating)
		if f.MinRating == 0 {
			lo = filter.RatingDomain.Min
		}
		if f.MaxRating == 0 {
			hi = filter.RatingDomain.Max
		}
		if err := s.SetRange(filter.ColumnStarRating, lo, hi); err != nil {
			return err
		}
	}
	if f.Start != "" || f.End != "" {
		if f.Start == "" || f.End == "" {
			return fmt.Errorf("--start and --end must be given together")
		}
		if err := s.SetMonthRange(filter.ColumnMonth, f.Start, f.End); err != nil {
			return err
		}
	}
	if f.Pattern != "" {
		if err := s.SetPattern(filter.ColumnDescription, f.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// openSession creates a session holding the current dataset, with restaurant
// selected when non-empty.
func openSession(ctx context.Context, a *app, restaurant string) (*session.Session, error) {
	manager := session.NewManager(a.loader, a.client, session.Options{
		ActiveInterval: a.cfg.ActivePollInterval,
		IdleInterval:   a.cfg.IdlePollInterval,
	})
	s := manager.Create()
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	if restaurant == "" {
		return s, nil
	}
	if err := s.Select(restaurant); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *ViewCommand) Execute(_ []string) error {
	cfg, err := c.globals.setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	if c.Restaurant == "" {
		s, err := openSession(ctx, a, "")
		if err != nil {
			return err
		}
		names, err := s.Restaurants(c.Search)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	s, err := openSession(ctx, a, c.Restaurant)
	if err != nil {
		return err
	}
	if err := c.FilterFlags.apply(s); err != nil {
		return err
	}
	if c.Analyze {
		if _, err := s.Analyze(ctx); err != nil {
			return err
		}
	}
	d, err := s.View(ctx)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	printDashboard(d)
	return nil
}

func (c *ScrapeCommand) Execute(_ []string) error {
	cfg, err := c.globals.setup()
	if err != nil {
		return err
	}
	if c.Limit <= 0 {
		c.Limit = cfg.DefaultReviewLimit
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	manager := session.NewManager(a.loader, a.client, session.Options{
		ActiveInterval: cfg.ActivePollInterval,
		IdleInterval:   cfg.IdlePollInterval,
	})
	s := manager.Create()

	job, err := s.SubmitScrape(ctx, c.Restaurant, c.Location, c.Limit)
	if err != nil {
		return err
	}
	slog.Info("scrape job submitted",
		slog.String("job_id", job.ID),
		slog.String("business", job.Restaurant),
		slog.Int("limit", c.Limit),
	)
	if !c.Wait {
		fmt.Println(job.ID)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.PollInterval()):
		}

		job, err = s.PollJob(ctx)
		if err != nil {
			if remote.IsUnavailable(err) {
				slog.Warn("backend unreachable, will retry", slog.Any("error", err))
				continue
			}
			return err
		}
		if job.Status != scraper.StateInProgress.String() {
			break
		}
	}

	fmt.Printf("Job %s: %s\n", job.ID, job.Status)
	if job.Status == scraper.StateFailed.String() {
		return fmt.Errorf("scrape job %s failed: %s", job.ID, job.Reason)
	}
	return nil
}

func (c *ExportCommand) Execute(_ []string) error {
	cfg, err := c.globals.setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, a, c.Restaurant)
	if err != nil {
		return err
	}

	var records []models.Record
	if c.Restaurant != "" {
		if err := c.FilterFlags.apply(s); err != nil {
			return err
		}
		d, err := s.View(ctx)
		if err != nil {
			return err
		}
		records = (&models.RestaurantDataset{Name: d.Restaurant, Reviews: d.View.Reviews}).Records()
	} else {
		snap, ok := a.loader.Cached()
		if !ok {
			if snap, err = a.loader.Load(ctx); err != nil {
				return err
			}
		}
		for _, name := range snap.Names {
			ds, _ := snap.Dataset(name)
			records = append(records, ds.Records()...)
		}
	}

	writer, err := pipeline.NewWriter(strings.ToLower(c.Format), c.Output)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	start := time.Now()
	stats, err := pipeline.Export(ctx, writer, records)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	printExportSummary(stats, time.Since(start), c.Output)
	return nil
}

func (c *RemoveCommand) Execute(_ []string) error {
	cfg, err := c.globals.setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.client.RemoveReviews(ctx, c.Restaurant); err != nil {
		return err
	}
	a.loader.Invalidate()
	fmt.Printf("Removed stored reviews of %s\n", c.Restaurant)
	return nil
}

const separator = "--------------------------------------------------"

func printDashboard(d *session.Dashboard) {
	fmt.Println(separator)
	fmt.Printf("  Dataset updated: %s\n", d.LastModified.Format("2006-01-02 15:04 MST"))
	fmt.Printf("  Job:             %s\n", d.Job.Status)
	if d.Notice != nil {
		fmt.Printf("  Last job:        %s %s\n", d.Notice.Status, d.Notice.Reason)
	}
	if d.NotFound {
		fmt.Printf("  %s was not found in the dataset\n", d.Restaurant)
		fmt.Println(separator)
		return
	}
	v := d.View
	if v == nil {
		fmt.Println(separator)
		return
	}

	fmt.Printf("  Restaurant:      %s\n", v.Restaurant)
	fmt.Printf("  Reviews:         %d (%d with text)\n", v.Totals.Total, v.Totals.WithDescription)
	if v.Totals.HasMean {
		fmt.Printf("  Mean rating:     %.2f\n", v.Totals.Mean)
	}
	fmt.Printf("  Filtered:        %d [%s]\n", v.Filtered.Total, v.Status)
	if v.Filtered.HasMean {
		fmt.Printf("  Filtered mean:   %.2f\n", v.Filtered.Mean)
	}
	for column, msg := range v.FilterErrors {
		fmt.Printf("  Filter %s: %s\n", column, msg)
	}

	fmt.Println("  Ratings:")
	for _, rc := range v.Histogram {
		fmt.Printf("    %d star: %d\n", rc.Rating, rc.Count)
	}
	fmt.Println("  Monthly mean:")
	for _, p := range v.Monthly {
		fmt.Printf("    %s  %.2f (%d)\n", p.Label, p.MeanRating, p.Count)
	}
	if d.Analysis != nil {
		fmt.Printf("  Summary:         %s\n", d.Analysis.Summary)
		for _, pro := range d.Analysis.Pros {
			fmt.Printf("    + %s\n", pro)
		}
		for _, con := range d.Analysis.Cons {
			fmt.Printf("    - %s\n", con)
		}
	}
	fmt.Println(separator)
}

func printExportSummary(stats pipeline.Stats, duration time.Duration, outputFile string) {
	fmt.Println("\n" + separator)
	fmt.Println("Export complete")
	fmt.Printf("  Records:       %d\n", stats.Written)
	if len(stats.Invalid) > 0 {
		fmt.Printf("  Skipped:       %v\n", stats.Invalid)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}
