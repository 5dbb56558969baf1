package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"podindex/internal/config"
	"podindex/internal/feeds"
	"podindex/internal/logging"
	"podindex/internal/preflight"
	"podindex/internal/queue"
	"podindex/internal/workflow"
)

// LockFileName is the single-instance lock created under paths.data_dir.
const LockFileName = "podindex.lock"

// ErrAlreadyRunning means another process holds the lock.
var ErrAlreadyRunning = errors.New("another podindex instance is already running")

// FeedSyncer refreshes every subscription.
type FeedSyncer interface {
	SyncAll(ctx context.Context) ([]feeds.SyncResult, error)
}

// Daemon owns the workflow manager lifecycle.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	syncer   FeedSyncer
	checks   func(context.Context, *config.Config) []preflight.Result

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Stages       []queue.Stage
	LastError    error
	DatabasePath string
	LockFilePath string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithFeedSyncer enables feed refresh on start and every
// feeds.refresh_interval.
func WithFeedSyncer(s FeedSyncer) Option {
	return func(d *Daemon) {
		d.syncer = s
	}
}

// WithPreflight replaces the checks run before Start.
func WithPreflight(fn func(context.Context, *config.Config) []preflight.Result) Option {
	return func(d *Daemon) {
		if fn != nil {
			d.checks = fn
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, LockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		checks:   preflight.RunAll,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Daemon) acquire() error {
	return tryLock(d.lock)
}

func tryLock(lock *flock.Flock) error {
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, lock.Path())
	}
	return nil
}

// Lock takes the single-instance lock on behalf of a maintenance command
// that rewrites state a running daemon keeps in memory, such as the
// resource cache file. It fails with ErrAlreadyRunning while a daemon or a
// one-shot run holds the lock.
func Lock(cfg *config.Config) (unlock func() error, err error) {
	if cfg == nil {
		return nil, errors.New("lock requires config")
	}
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, LockFileName))
	if err := tryLock(lock); err != nil {
		return nil, err
	}
	return lock.Unlock, nil
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath))
	}
}

func (d *Daemon) preflight(ctx context.Context) error {
	failed := preflight.Failed(d.checks(ctx, d.cfg))
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, r.Name+": "+r.Detail)
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(parts, "; "))
}

// Start acquires the lock, runs preflight and launches the workflow lanes.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return err
	}
	if err := d.preflight(ctx); err != nil {
		d.release()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.release()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel
	if d.syncer != nil {
		d.wg.Add(1)
		go d.refreshFeeds(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("podindex daemon started",
		logging.String("lock", d.lockPath),
		logging.Any("stages", d.workflow.Stages()))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.workflow.Stop()
	d.release()
	d.running.Store(false)
	d.logger.Info("podindex daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// RunOnce holds the lock for a single drain of the pipeline. When syncFeeds
// is true subscriptions are refreshed first.
func (d *Daemon) RunOnce(ctx context.Context, syncFeeds bool) (workflow.Summary, error) {
	if d.running.Load() {
		return workflow.Summary{}, errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return workflow.Summary{}, err
	}
	defer d.release()
	if err := d.preflight(ctx); err != nil {
		return workflow.Summary{}, err
	}
	if syncFeeds && d.syncer != nil {
		d.syncFeeds(ctx)
	}
	return d.workflow.RunOnce(ctx)
}

func (d *Daemon) refreshFeeds(ctx context.Context) {
	defer d.wg.Done()
	d.syncFeeds(ctx)
	interval := d.cfg.FeedRefreshInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.syncFeeds(ctx)
		}
	}
}

func (d *Daemon) syncFeeds(ctx context.Context) {
	results, err := d.syncer.SyncAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "feed sync failed", "feed_sync_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new episodes are not discovered until the next refresh"))
		}
		return
	}
	added := 0
	for _, r := range results {
		added += r.Added
	}
	d.logger.Info("feeds refreshed",
		logging.String(logging.FieldEventType, "feed_sync_complete"),
		logging.Int("podcasts", len(results)),
		logging.Int("episodes_added", added))
}

// LockPath returns the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Stages:       d.workflow.Stages(),
		LastError:    d.workflow.LastError(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
