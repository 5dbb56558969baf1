package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	AudioDir      string `toml:"audio_dir"`
	TranscriptDir string `toml:"transcript_dir"`
	LogDir        string `toml:"log_dir"`
	DatabasePath  string `toml:"database_path"`
}

// Workflow contains configuration for the pipeline driver.
type Workflow struct {
	MaxRetries        int  `toml:"max_retries"`
	LeaseTimeout      int  `toml:"lease_timeout"`
	HeartbeatInterval int  `toml:"heartbeat_interval"`
	PollInterval      int  `toml:"poll_interval"`
	ReapInterval      int  `toml:"reap_interval"`
	CleanupInterval   int  `toml:"cleanup_interval"`
	IndexingEnabled   bool `toml:"indexing_enabled"`
	CleanupEnabled    bool `toml:"cleanup_enabled"`

	DownloadBatchSize   int `toml:"download_batch_size"`
	TranscriptBatchSize int `toml:"transcript_batch_size"`
	MetadataBatchSize   int `toml:"metadata_batch_size"`
	IndexingBatchSize   int `toml:"indexing_batch_size"`
	CleanupBatchSize    int `toml:"cleanup_batch_size"`

	DownloadWorkers   int `toml:"download_workers"`
	TranscriptWorkers int `toml:"transcript_workers"`
	MetadataWorkers   int `toml:"metadata_workers"`
	IndexingWorkers   int `toml:"indexing_workers"`
}

// Download contains configuration for fetching episode audio.
type Download struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BytesPerSecond int    `toml:"bytes_per_second"`
	UserAgent      string `toml:"user_agent"`
}

// Transcription contains WhisperX settings.
type Transcription struct {
	Model       string `toml:"model"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
	HFToken     string `toml:"hf_token"`
	Language    string `toml:"language"`
}

// LLM contains the connection settings for metadata extraction.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DocumentStore contains the remote semantic search store settings.
type DocumentStore struct {
	APIKey               string  `toml:"api_key"`
	BaseURL              string  `toml:"base_url"`
	StoreName            string  `toml:"store_name"`
	RequestsPerSecond    float64 `toml:"requests_per_second"`
	UploadTimeoutSeconds int     `toml:"upload_timeout_seconds"`
}

// Cache contains the external resource cache settings.
type Cache struct {
	Path       string `toml:"path"`
	StaleAfter int    `toml:"stale_after"`
}

// Feeds contains subscription sync settings.
type Feeds struct {
	MaxEpisodesPerFeed int    `toml:"max_episodes_per_feed"`
	UserAgent          string `toml:"user_agent"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	RefreshInterval    int    `toml:"refresh_interval"`
}

// Notifications contains ntfy settings. An empty topic disables delivery.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for podindex.
//
// Configuration sections by subsystem:
//   - Paths: data, audio, transcript, and log directories plus the database file
//   - Workflow: retry budget, lease timing, batch sizes and worker counts
//   - Download: enclosure fetch timeout and bandwidth cap
//   - Transcription: WhisperX model and device settings
//   - LLM: metadata extraction endpoint
//   - DocumentStore: remote File Search store
//   - Cache: external resource cache file and staleness window
//   - Feeds: subscription sync limits
//   - Notifications: ntfy topic for failure and pass alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Download      Download      `toml:"download"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	DocumentStore DocumentStore `toml:"document_store"`
	Cache         Cache         `toml:"cache"`
	Feeds         Feeds         `toml:"feeds"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("podindex.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.AudioDir, c.Paths.TranscriptDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, file := range []string{c.Paths.DatabasePath, c.Cache.Path} {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return fmt.Errorf("create directory for %q: %w", file, err)
		}
	}
	return nil
}

// LeaseTimeout returns how long a claim stays valid without a heartbeat.
func (c *Config) LeaseTimeout() time.Duration {
	return seconds(c.Workflow.LeaseTimeout)
}

// HeartbeatInterval returns how often in-flight claims extend their lease.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.Workflow.HeartbeatInterval)
}

// PollInterval returns the idle wait between selector queries.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Workflow.PollInterval)
}

// ReapInterval returns how often expired leases are reclaimed.
func (c *Config) ReapInterval() time.Duration {
	return seconds(c.Workflow.ReapInterval)
}

// CleanupInterval returns how often the audio cleanup pass runs in daemon mode.
func (c *Config) CleanupInterval() time.Duration {
	return seconds(c.Workflow.CleanupInterval)
}

// FeedRefreshInterval returns how often the daemon resyncs subscriptions.
// Zero disables periodic refresh.
func (c *Config) FeedRefreshInterval() time.Duration {
	return seconds(c.Feeds.RefreshInterval)
}

// CacheStaleAfter returns the age after which the resource cache is stale.
func (c *Config) CacheStaleAfter() time.Duration {
	return seconds(c.Cache.StaleAfter)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
