package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Dataset source kinds.
const (
	SourceS3   = "s3"
	SourceHTTP = "http"
	SourceFile = "file"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REVIEWDASH_"

// Config holds dashboard configuration.
type Config struct {
	Source      string `yaml:"source"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Key       string `yaml:"s3_key"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	DatasetURL  string `yaml:"dataset_url"`
	DatasetPath string `yaml:"dataset_path"`

	BackendURL string `yaml:"backend_url"`

	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	AnalyzeTimeout time.Duration `yaml:"analyze_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`

	ActivePollInterval time.Duration `yaml:"active_poll_interval"`
	IdlePollInterval   time.Duration `yaml:"idle_poll_interval"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	MaxSessions        int           `yaml:"max_sessions"`

	TimeZone           string `yaml:"time_zone"`
	DefaultReviewLimit int    `yaml:"default_review_limit"`
	ListenAddr         string `yaml:"listen_addr"`
	MetricsAddr        string `yaml:"metrics_addr"`
	UserAgent          string `yaml:"user_agent"`
	Verbose            bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults matching the hosted dashboard.
func DefaultConfig() *Config {
	return &Config{
		Source:             SourceS3,
		S3Bucket:           "google-reviews-streamlit-db",
		S3Key:              "reviews_by_restaurant.json",
		S3Region:           "ap-southeast-1",
		BackendURL:         "http://127.0.0.1:5000",
		FetchTimeout:       30 * time.Second,
		SubmitTimeout:      10 * time.Second,
		PollTimeout:        5 * time.Second,
		AnalyzeTimeout:     60 * time.Second,
		CacheTTL:           time.Hour,
		ActivePollInterval: 10 * time.Second,
		IdlePollInterval:   5 * time.Minute,
		SessionTTL:         30 * time.Minute,
		MaxSessions:        256,
		TimeZone:           "Asia/Singapore",
		DefaultReviewLimit: 100,
		ListenAddr:         ":8080",
		MetricsAddr:        "",
		UserAgent:          "reviewdash/1.0",
		Verbose:            false,
	}
}

// Load reads an optional YAML file over the defaults, then applies .env and
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", slog.Any("error", err))
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REVIEWDASH_* variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"SOURCE":        &c.Source,
		"S3_BUCKET":     &c.S3Bucket,
		"S3_KEY":        &c.S3Key,
		"S3_REGION":     &c.S3Region,
		"S3_ENDPOINT":   &c.S3Endpoint,
		"S3_ACCESS_KEY": &c.S3AccessKey,
		"S3_SECRET_KEY": &c.S3SecretKey,
		"DATASET_URL":   &c.DatasetURL,
		"DATASET_PATH":  &c.DatasetPath,
		"BACKEND_URL":   &c.BackendURL,
		"TIME_ZONE":     &c.TimeZone,
		"LISTEN_ADDR":   &c.ListenAddr,
		"METRICS_ADDR":  &c.MetricsAddr,
	}
	for key, field := range strs {
		if value, ok := EnvString(EnvPrefix + key); ok {
			*field = value
		}
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":        &c.FetchTimeout,
		"SUBMIT_TIMEOUT":       &c.SubmitTimeout,
		"POLL_TIMEOUT":         &c.PollTimeout,
		"ANALYZE_TIMEOUT":      &c.AnalyzeTimeout,
		"CACHE_TTL":            &c.CacheTTL,
		"ACTIVE_POLL_INTERVAL": &c.ActivePollInterval,
		"IDLE_POLL_INTERVAL":   &c.IdlePollInterval,
		"SESSION_TTL":          &c.SessionTTL,
	}
	for key, field := range durations {
		value, ok, err := EnvDuration(EnvPrefix + key)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		if ok {
			*field = value
		}
	}

	ints := map[string]*int{
		"MAX_SESSIONS":         &c.MaxSessions,
		"DEFAULT_REVIEW_LIMIT": &c.DefaultReviewLimit,
	}
	for key, field := range ints {
		value, ok, err := EnvInt(EnvPrefix + key)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		if ok {
			*field = value
		}
	}
	return nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceS3:
		if c.S3Bucket == "" || c.S3Key == "" {
			return fmt.Errorf("s3 source requires bucket and key")
		}
	case SourceHTTP:
		if err := validateURL("dataset URL", c.DatasetURL); err != nil {
			return err
		}
	case SourceFile:
		if c.DatasetPath == "" {
			return fmt.Errorf("file source requires a dataset path")
		}
	default:
		return fmt.Errorf("source must be s3, http, or file")
	}

	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("s3 access key and secret key must be set together")
	}

	if err := validateURL("backend URL", c.BackendURL); err != nil {
		return err
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit timeout must be positive")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}
	if c.AnalyzeTimeout <= 0 {
		return fmt.Errorf("analyze timeout must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.ActivePollInterval <= 0 || c.IdlePollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.ActivePollInterval > c.IdlePollInterval {
		return fmt.Errorf("active poll interval (%s) cannot exceed idle poll interval (%s)", c.ActivePollInterval, c.IdlePollInterval)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive")
	}
	if c.DefaultReviewLimit <= 0 {
		return fmt.Errorf("default review limit must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// EnvString returns the trimmed value of key when set and non-empty.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// EnvDuration parses key as a time.Duration when set.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}
