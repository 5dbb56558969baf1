package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"podindex/internal/config"
	"podindex/internal/logging"
	"podindex/internal/notifications"
	"podindex/internal/queue"
	"podindex/internal/reconcile"
	"podindex/internal/stage"
)

// Manager coordinates stage processing over the queue store.
type Manager struct {
	cfg        *config.Config
	store      *queue.Store
	logger     *slog.Logger
	reconciler *reconcile.Reconciler
	notifier   notifications.Service
	now        func() time.Time
	removeFile func(string) error

	lanes []*lane

	leaseTTL          time.Duration
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	maxRetries        int

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error

	cacheMu     sync.Mutex
	cacheReady  chan struct{}
	reconciling bool
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithReconciler lets the manager rebuild a stale resource cache before
// indexing.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(m *Manager) {
		m.reconciler = r
	}
}

// WithNotifier sends permanent failures and pass summaries to notifier.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager. Stages whose handler is nil, and
// the indexing stage when workflow.indexing_enabled is false, get no lane.
func NewManager(cfg *config.Config, store *queue.Store, stages StageSet, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logging.NewComponentLogger(logger, "workflow"),
		notifier:          notifications.NewService(config.Notifications{}),
		now:               time.Now,
		removeFile:        removeAudio,
		leaseTTL:          cfg.LeaseTimeout(),
		heartbeatInterval: cfg.HeartbeatInterval(),
		pollInterval:      cfg.PollInterval(),
		maxRetries:        cfg.Workflow.MaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}

	w := cfg.Workflow
	batch := map[queue.Stage][2]int{
		queue.StageDownload:   {w.DownloadBatchSize, w.DownloadWorkers},
		queue.StageTranscript: {w.TranscriptBatchSize, w.TranscriptWorkers},
		queue.StageMetadata:   {w.MetadataBatchSize, w.MetadataWorkers},
		queue.StageIndexing:   {w.IndexingBatchSize, w.IndexingWorkers},
	}
	for _, st := range queue.Stages {
		handler := stages.handler(st)
		if handler == nil || (st == queue.StageIndexing && !w.IndexingEnabled) {
			continue
		}
		m.lanes = append(m.lanes, &lane{
			stage:     st,
			handler:   handler,
			batchSize: max(batch[st][0], 1),
			workers:   max(batch[st][1], 1),
			deferred:  make(map[int64]time.Time),
		})
	}
	return m
}

func (m *Manager) notify(ctx context.Context, label string, send func(context.Context) error) {
	if err := send(context.WithoutCancel(ctx)); err != nil {
		logging.WarnWithContext(m.logger, "notification failed", "notification_failed",
			logging.String("notification", label),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "alert not delivered"))
	}
}

// Stages returns the stages that have a lane, in pipeline order.
func (m *Manager) Stages() []queue.Stage {
	out := make([]queue.Stage, 0, len(m.lanes))
	for _, l := range m.lanes {
		out = append(out, l.stage)
	}
	return out
}

// HealthCheck reports readiness of every active stage handler.
func (m *Manager) HealthCheck(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(m.lanes))
	for _, l := range m.lanes {
		out = append(out, l.handler.HealthCheck(ctx))
	}
	return out
}

// LastError returns the most recent infrastructure error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Running reports whether Start has been called without Stop.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
