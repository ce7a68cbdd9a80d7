package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goflags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/reviewdash/config"
	"github.com/aluiziolira/reviewdash/loader"
	"github.com/aluiziolira/reviewdash/scraper"
)

// GlobalFlags override the configuration file and environment.
type GlobalFlags struct {
	Config      string `short:"c" long:"config" description:"YAML configuration file"`
	Verbose     bool   `short:"v" long:"verbose" description:"Enable verbose logging"`
	Source      string `long:"source" description:"Dataset source: s3, http, or file"`
	DatasetPath string `long:"dataset-path" description:"Dataset file for the file source"`
	DatasetURL  string `long:"dataset-url" description:"Dataset URL for the http source"`
	BackendURL  string `long:"backend-url" description:"Scrape backend base URL"`
	TimeZone    string `long:"time-zone" description:"Zone used to display modification times"`
}

func main() {
	var globals GlobalFlags
	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "reviewdash"
	parser.LongDescription = "Browse, filter and refresh Google Maps restaurant reviews."

	parser.AddCommand("serve", "Run the dashboard HTTP server", "Serve dashboard sessions over HTTP.", &ServeCommand{globals: &globals})
	parser.AddCommand("view", "Print a restaurant dashboard", "Load the dataset, apply filters and print the aggregates of one restaurant.", &ViewCommand{globals: &globals})
	parser.AddCommand("scrape", "Submit a scrape job", "Ask the backend to scrape a restaurant and optionally wait for the job.", &ScrapeCommand{globals: &globals})
	parser.AddCommand("export", "Export reviews to CSV or JSONL", "Write the reviews of one or every restaurant to a file.", &ExportCommand{globals: &globals})
	parser.AddCommand("remove", "Delete stored reviews", "Ask the backend to delete the stored reviews of a restaurant.", &RemoveCommand{globals: &globals})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger.
func (g *GlobalFlags) setup() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	overrides := []struct {
		value string
		field *string
	}{
		{g.Source, &cfg.Source},
		{g.DatasetPath, &cfg.DatasetPath},
		{g.DatasetURL, &cfg.DatasetURL},
		{g.BackendURL, &cfg.BackendURL},
		{g.TimeZone, &cfg.TimeZone},
	}
	for _, o := range overrides {
		if o.value != "" {
			*o.field = o.value
		}
	}
	if g.Verbose {
		cfg.Verbose = true
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app is the wired object graph shared by the commands.
type app struct {
	cfg           *config.Config
	loader        *loader.Loader
	loaderMetrics *loader.Metrics
	client        *scraper.Client
	clientMetrics *scraper.Metrics
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	source, err := newSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising dataset source: %w", err)
	}

	a := &app{cfg: cfg, loaderMetrics: loader.NewMetrics(), clientMetrics: scraper.NewMetrics()}
	a.loader = loader.New(source, loader.Options{
		CacheTTL:     cfg.CacheTTL,
		FetchTimeout: cfg.FetchTimeout,
		ProbeTimeout: cfg.PollTimeout,
		Location:     loc,
		Metrics:      a.loaderMetrics,
	})
	a.client, err = scraper.NewClient(cfg.BackendURL, scraper.Options{
		SubmitTimeout:  cfg.SubmitTimeout,
		PollTimeout:    cfg.PollTimeout,
		AnalyzeTimeout: cfg.AnalyzeTimeout,
		UserAgent:      cfg.UserAgent,
		Metrics:        a.clientMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("initialising backend client: %w", err)
	}
	return a, nil
}

func newSource(ctx context.Context, cfg *config.Config) (loader.Source, error) {
	switch cfg.Source {
	case config.SourceS3:
		return loader.NewS3Source(ctx, loader.S3Options{
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case config.SourceHTTP:
		return loader.NewHTTPSource(cfg.DatasetURL, cfg.FetchTimeout, cfg.UserAgent)
	case config.SourceFile:
		return loader.NewFileSource(cfg.DatasetPath), nil
	default:
		return nil, fmt.Errorf("unsupported source: %s", cfg.Source)
	}
}

// startMetricsServer serves the gatherers on addr until ctx ends. An empty
// addr disables it.
func startMetricsServer(ctx context.Context, addr string, gatherers prometheus.Gatherers) {
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
