package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateDocumentStore(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Feeds.MaxEpisodesPerFeed < 0 {
		return errors.New("feeds.max_episodes_per_feed must not be negative")
	}
	if c.Feeds.RefreshInterval < 0 {
		return errors.New("feeds.refresh_interval must not be negative")
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		return errors.New("paths.database_path must be set")
	}
	if strings.TrimSpace(c.Paths.AudioDir) == "" {
		return errors.New("paths.audio_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_retries":           c.Workflow.MaxRetries,
		"workflow.poll_interval":         c.Workflow.PollInterval,
		"workflow.reap_interval":         c.Workflow.ReapInterval,
		"workflow.cleanup_interval":      c.Workflow.CleanupInterval,
		"workflow.download_batch_size":   c.Workflow.DownloadBatchSize,
		"workflow.transcript_batch_size": c.Workflow.TranscriptBatchSize,
		"workflow.metadata_batch_size":   c.Workflow.MetadataBatchSize,
		"workflow.indexing_batch_size":   c.Workflow.IndexingBatchSize,
		"workflow.cleanup_batch_size":    c.Workflow.CleanupBatchSize,
		"workflow.download_workers":      c.Workflow.DownloadWorkers,
		"workflow.transcript_workers":    c.Workflow.TranscriptWorkers,
		"workflow.metadata_workers":      c.Workflow.MetadataWorkers,
		"workflow.indexing_workers":      c.Workflow.IndexingWorkers,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.LeaseTimeout <= 0 {
		return errors.New("workflow.lease_timeout must be positive")
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.TimeoutSeconds <= 0 {
		return errors.New("download.timeout_seconds must be positive")
	}
	if c.Download.BytesPerSecond < 0 {
		return errors.New("download.bytes_per_second must not be negative (0 disables the cap)")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcription.vad_method: unsupported value %q (want silero or pyannote)", c.Transcription.VADMethod)
	}
	if c.Transcription.VADMethod == "pyannote" && c.Transcription.HFToken == "" {
		return errors.New("transcription.hf_token must be set when transcription.vad_method is pyannote")
	}
	return nil
}

func (c *Config) validateDocumentStore() error {
	if c.DocumentStore.RequestsPerSecond < 0 {
		return errors.New("document_store.requests_per_second must not be negative (0 disables throttling)")
	}
	if c.DocumentStore.UploadTimeoutSeconds <= 0 {
		return errors.New("document_store.upload_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.StaleAfter < 0 {
		return errors.New("cache.stale_after must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

// ValidateIndexing reports whether the document store can be used. It is
// separate from Validate so read-only commands work without credentials.
func (c *Config) ValidateIndexing() error {
	if !c.Workflow.IndexingEnabled {
		return nil
	}
	if c.DocumentStore.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("document_store.api_key is required when indexing is enabled. Set GEMINI_API_KEY or edit %s (create with 'podindex config init')", defaultPath)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
