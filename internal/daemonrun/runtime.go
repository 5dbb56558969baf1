package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podindex/internal/config"
	"podindex/internal/daemon"
	"podindex/internal/downloader"
	"podindex/internal/feeds"
	"podindex/internal/indexing"
	"podindex/internal/logging"
	"podindex/internal/metadata"
	"podindex/internal/notifications"
	"podindex/internal/queue"
	"podindex/internal/reconcile"
	"podindex/internal/resourcecache"
	"podindex/internal/services/filesearch"
	"podindex/internal/transcription"
	"podindex/internal/workflow"
)

// Runtime holds every long-lived component built from one config.
type Runtime struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *queue.Store
	Cache      *resourcecache.Cache
	DocStore   *filesearch.Client
	Reconciler *reconcile.Reconciler
	Syncer     *feeds.Syncer
	Notifier   notifications.Service
	Manager    *workflow.Manager
}

// Build opens the queue store and wires the stage handlers, resource cache,
// document store client and feed syncer. Nothing here touches the network.
func Build(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := queue.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	cache := resourcecache.New(resourcecache.Options{
		Path:       cfg.Cache.Path,
		StaleAfter: cfg.CacheStaleAfter(),
		Logger:     logger,
	})
	docs := filesearch.New(filesearch.Config{
		APIKey:            cfg.DocumentStore.APIKey,
		BaseURL:           cfg.DocumentStore.BaseURL,
		RequestsPerSecond: cfg.DocumentStore.RequestsPerSecond,
		UploadTimeout:     time.Duration(cfg.DocumentStore.UploadTimeoutSeconds) * time.Second,
	}, filesearch.WithLogger(logger))
	reconciler := reconcile.New(docs, cache, cfg.DocumentStore.StoreName, logger)

	stages := workflow.StageSet{
		Download:   downloader.NewHandler(cfg, logger),
		Transcript: transcription.NewHandler(cfg, nil, logger),
		Metadata:   metadata.NewHandler(cfg, nil, logger),
	}
	notifier := notifications.NewService(cfg.Notifications)
	opts := []workflow.Option{workflow.WithNotifier(notifier)}
	if cfg.Workflow.IndexingEnabled {
		stages.Indexing = indexing.NewHandler(docs, cache, cfg.DocumentStore.StoreName, logger)
		opts = append(opts, workflow.WithReconciler(reconciler))
	}

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Cache:      cache,
		DocStore:   docs,
		Reconciler: reconciler,
		Syncer:     feeds.NewSyncer(cfg, store, logger),
		Notifier:   notifier,
		Manager:    workflow.NewManager(cfg, store, stages, logger, opts...),
	}, nil
}

// Daemon wraps the runtime's manager and syncer in a lock-guarded daemon.
func (r *Runtime) Daemon() (*daemon.Daemon, error) {
	return daemon.New(r.Config, r.Store, r.Logger, r.Manager, daemon.WithFeedSyncer(r.Syncer))
}

// Close releases the queue store.
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
