package config

const (
	defaultConfigPath                 = "~/.config/podindex/config.toml"
	defaultDataDir                    = "~/.local/share/podindex"
	defaultAudioDirName               = "audio"
	defaultTranscriptDirName          = "transcripts"
	defaultLogDirName                 = "logs"
	defaultDatabaseName               = "podindex.db"
	defaultCacheName                  = "file_search_cache.json"
	defaultLogRetentionDays           = 30
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultMaxRetries                 = 3
	defaultLeaseTimeout               = 1800
	defaultHeartbeatInterval          = 60
	defaultPollInterval               = 30
	defaultReapInterval               = 60
	defaultCleanupInterval            = 600
	defaultDownloadBatchSize          = 50
	defaultTranscriptBatchSize        = 3
	defaultMetadataBatchSize          = 9
	defaultIndexingBatchSize          = 10
	defaultCleanupBatchSize           = 20
	defaultDownloadWorkers            = 10
	defaultDownloadTimeoutSeconds     = 600
	defaultUserAgent                  = "podindex/dev"
	defaultWhisperXModel              = "large-v3"
	defaultVADMethod                  = "silero"
	defaultLLMBaseURL                 = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                   = "google/gemini-2.5-flash"
	defaultLLMTitle                   = "podindex metadata"
	defaultLLMTimeoutSeconds          = 120
	defaultDocumentStoreBaseURL       = "https://generativelanguage.googleapis.com"
	defaultDocumentStoreName          = "podcast-transcripts"
	defaultDocumentStoreRPS           = 2
	defaultDocumentStoreUploadTimeout = 300
	defaultCacheStaleAfter            = 86400
	defaultFeedTimeoutSeconds         = 30
	defaultFeedRefreshInterval        = 3600
	defaultNtfyRequestTimeout         = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Workflow: Workflow{
			MaxRetries:          defaultMaxRetries,
			LeaseTimeout:        defaultLeaseTimeout,
			HeartbeatInterval:   defaultHeartbeatInterval,
			PollInterval:        defaultPollInterval,
			ReapInterval:        defaultReapInterval,
			CleanupInterval:     defaultCleanupInterval,
			IndexingEnabled:     true,
			CleanupEnabled:      true,
			DownloadBatchSize:   defaultDownloadBatchSize,
			TranscriptBatchSize: defaultTranscriptBatchSize,
			MetadataBatchSize:   defaultMetadataBatchSize,
			IndexingBatchSize:   defaultIndexingBatchSize,
			CleanupBatchSize:    defaultCleanupBatchSize,
			DownloadWorkers:     defaultDownloadWorkers,
			TranscriptWorkers:   1,
			MetadataWorkers:     1,
			IndexingWorkers:     1,
		},
		Download: Download{
			TimeoutSeconds: defaultDownloadTimeoutSeconds,
			UserAgent:      defaultUserAgent,
		},
		Transcription: Transcription{
			Model:     defaultWhisperXModel,
			VADMethod: defaultVADMethod,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		DocumentStore: DocumentStore{
			BaseURL:              defaultDocumentStoreBaseURL,
			StoreName:            defaultDocumentStoreName,
			RequestsPerSecond:    defaultDocumentStoreRPS,
			UploadTimeoutSeconds: defaultDocumentStoreUploadTimeout,
		},
		Cache: Cache{
			StaleAfter: defaultCacheStaleAfter,
		},
		Feeds: Feeds{
			UserAgent:       defaultUserAgent,
			TimeoutSeconds:  defaultFeedTimeoutSeconds,
			RefreshInterval: defaultFeedRefreshInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
