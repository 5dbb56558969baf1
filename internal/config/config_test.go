package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"podindex/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	dataDir := filepath.Join(tempHome, ".local", "share", "podindex")
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, dataDir)
	}
	if cfg.Paths.AudioDir != filepath.Join(dataDir, "audio") {
		t.Fatalf("unexpected audio dir: %q", cfg.Paths.AudioDir)
	}
	if cfg.Paths.DatabasePath != filepath.Join(dataDir, "podindex.db") {
		t.Fatalf("unexpected database path: %q", cfg.Paths.DatabasePath)
	}
	if cfg.Cache.Path != filepath.Join(dataDir, "file_search_cache.json") {
		t.Fatalf("unexpected cache path: %q", cfg.Cache.Path)
	}
	if cfg.DocumentStore.APIKey != "gem-key" {
		t.Fatalf("expected document store key from env, got %q", cfg.DocumentStore.APIKey)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("expected max_retries default 3, got %d", cfg.Workflow.MaxRetries)
	}
	if !cfg.Workflow.IndexingEnabled {
		t.Fatal("expected indexing enabled by default")
	}
	if cfg.CacheStaleAfter() != 24*time.Hour {
		t.Fatalf("expected 24h staleness window, got %s", cfg.CacheStaleAfter())
	}
	if cfg.LeaseTimeout() <= cfg.HeartbeatInterval() {
		t.Fatalf("lease timeout %s must exceed heartbeat %s", cfg.LeaseTimeout(), cfg.HeartbeatInterval())
	}
}

func TestLoadCustomFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir":  "~/pod",
			"audio_dir": "/srv/audio",
		},
		"workflow": map[string]any{
			"max_retries":      5,
			"indexing_enabled": false,
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected existing config at %q, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "pod") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.AudioDir != "/srv/audio" {
		t.Fatalf("expected explicit audio dir to win, got %q", cfg.Paths.AudioDir)
	}
	if cfg.Paths.TranscriptDir != filepath.Join(tempHome, "pod", "transcripts") {
		t.Fatalf("unexpected transcript dir: %q", cfg.Paths.TranscriptDir)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Fatalf("expected max_retries 5, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.IndexingEnabled {
		t.Fatal("expected indexing disabled")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
	if err := cfg.ValidateIndexing(); err != nil {
		t.Fatalf("indexing disabled should not need credentials: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero retries", func(c *config.Config) { c.Workflow.MaxRetries = 0 }, "workflow.max_retries"},
		{"lease shorter than heartbeat", func(c *config.Config) { c.Workflow.LeaseTimeout = 30 }, "workflow.lease_timeout"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"pyannote without token", func(c *config.Config) { c.Transcription.VADMethod = "pyannote" }, "transcription.hf_token"},
		{"negative bandwidth", func(c *config.Config) { c.Download.BytesPerSecond = -1 }, "download.bytes_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DatabasePath = filepath.Join(t.TempDir(), "db")
			cfg.Paths.AudioDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateIndexingRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.DocumentStore.APIKey = ""
	if err := cfg.ValidateIndexing(); err == nil {
		t.Fatal("expected missing api key error")
	}
	cfg.DocumentStore.APIKey = "k"
	if err := cfg.ValidateIndexing(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load cleanly: exists=%v err=%v", exists, err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = base
	cfg.Paths.AudioDir = filepath.Join(base, "a")
	cfg.Paths.TranscriptDir = filepath.Join(base, "t")
	cfg.Paths.LogDir = filepath.Join(base, "l")
	cfg.Paths.DatabasePath = filepath.Join(base, "db", "podindex.db")
	cfg.Cache.Path = filepath.Join(base, "cache", "c.json")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{"a", "t", "l", "db", "cache"} {
		if info, err := os.Stat(filepath.Join(base, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
