package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "unknown source",
			mutate: func(cfg *Config) {
				cfg.Source = "ftp"
			},
			wantErr: "source",
		},
		{
			name: "s3 without key",
			mutate: func(cfg *Config) {
				cfg.S3Key = ""
			},
			wantErr: "bucket and key",
		},
		{
			name: "http source without url",
			mutate: func(cfg *Config) {
				cfg.Source = SourceHTTP
				cfg.DatasetURL = ""
			},
			wantErr: "dataset URL",
		},
		{
			name: "file source without path",
			mutate: func(cfg *Config) {
				cfg.Source = SourceFile
			},
			wantErr: "dataset path",
		},
		{
			name: "s3 access key without secret",
			mutate: func(cfg *Config) {
				cfg.S3AccessKey = "AKIAEXAMPLE"
			},
			wantErr: "access key and secret key",
		},
		{
			name: "invalid backend url",
			mutate: func(cfg *Config) {
				cfg.BackendURL = "http://"
			},
			wantErr: "backend URL",
		},
		{
			name: "negative poll timeout",
			mutate: func(cfg *Config) {
				cfg.PollTimeout = -1 * time.Second
			},
			wantErr: "poll timeout",
		},
		{
			name: "active interval above idle",
			mutate: func(cfg *Config) {
				cfg.ActivePollInterval = time.Hour
			},
			wantErr: "active poll interval",
		},
		{
			name: "unknown time zone",
			mutate: func(cfg *Config) {
				cfg.TimeZone = "Mars/Olympus"
			},
			wantErr: "time zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewdash.yaml")
	body := "source: file\ndataset_path: ./reviews.json\npoll_timeout: 3s\nmax_sessions: 8\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("REVIEWDASH_BACKEND_URL", "http://scraper.internal:5000")
	t.Setenv("REVIEWDASH_CACHE_TTL", "15m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source != SourceFile || cfg.DatasetPath != "./reviews.json" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PollTimeout != 3*time.Second {
		t.Fatalf("poll timeout = %s, want 3s", cfg.PollTimeout)
	}
	if cfg.MaxSessions != 8 {
		t.Fatalf("max sessions = %d, want 8", cfg.MaxSessions)
	}
	if cfg.BackendURL != "http://scraper.internal:5000" {
		t.Fatalf("backend url = %q", cfg.BackendURL)
	}
	if cfg.CacheTTL != 15*time.Minute {
		t.Fatalf("cache ttl = %s, want 15m", cfg.CacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate, got %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("REVIEWDASH_MAX_SESSIONS", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "MAX_SESSIONS") {
		t.Fatalf("expected MAX_SESSIONS error, got %v", err)
	}
}
