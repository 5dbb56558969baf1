package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeLLM()
	c.normalizeDocumentStore()
	c.normalizeFeeds()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	defaults := []struct {
		field *string
		name  string
		key   string
	}{
		{&c.Paths.AudioDir, defaultAudioDirName, "paths.audio_dir"},
		{&c.Paths.TranscriptDir, defaultTranscriptDirName, "paths.transcript_dir"},
		{&c.Paths.LogDir, defaultLogDirName, "paths.log_dir"},
		{&c.Paths.DatabasePath, defaultDatabaseName, "paths.database_path"},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.field) == "" {
			*d.field = filepath.Join(c.Paths.DataDir, d.name)
		}
		if *d.field, err = expandPath(*d.field); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = filepath.Join(c.Paths.DataDir, defaultCacheName)
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if c.Cache.StaleAfter == 0 {
		c.Cache.StaleAfter = defaultCacheStaleAfter
	}
	return nil
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultWhisperXModel
	}
	c.Transcription.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.VADMethod))
	if c.Transcription.VADMethod == "" {
		c.Transcription.VADMethod = defaultVADMethod
	}
	c.Transcription.HFToken = strings.TrimSpace(c.Transcription.HFToken)
	if c.Transcription.HFToken == "" {
		if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			c.Transcription.HFToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Transcription.HFToken = strings.TrimSpace(value)
		}
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
}

func (c *Config) normalizeDocumentStore() {
	c.DocumentStore.APIKey = strings.TrimSpace(c.DocumentStore.APIKey)
	if c.DocumentStore.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.DocumentStore.APIKey = strings.TrimSpace(value)
		}
	}
	c.DocumentStore.BaseURL = strings.TrimRight(strings.TrimSpace(c.DocumentStore.BaseURL), "/")
	if c.DocumentStore.BaseURL == "" {
		c.DocumentStore.BaseURL = defaultDocumentStoreBaseURL
	}
	c.DocumentStore.StoreName = strings.TrimSpace(c.DocumentStore.StoreName)
	if c.DocumentStore.StoreName == "" {
		c.DocumentStore.StoreName = defaultDocumentStoreName
	}
}

func (c *Config) normalizeFeeds() {
	c.Feeds.UserAgent = strings.TrimSpace(c.Feeds.UserAgent)
	if c.Feeds.UserAgent == "" {
		c.Feeds.UserAgent = defaultUserAgent
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Download.UserAgent = strings.TrimSpace(c.Download.UserAgent)
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
