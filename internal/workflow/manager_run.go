package workflow

import (
	"context"
	"errors"
	"time"

	"podindex/internal/logging"
	"podindex/internal/queue"
)

// farFuture defers an episode for the rest of a RunOnce pass.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// RunOnce drains every active stage in pipeline order, then runs the cleanup
// pass. Episodes that fail and return to pending are not retried within the
// same pass. Infrastructure errors abort the pass; stage failures do not.
func (m *Manager) RunOnce(ctx context.Context) (Summary, error) {
	start := m.now()
	summary := Summary{Stages: make(map[queue.Stage]StageTotals, len(m.lanes))}
	defer func() {
		for _, l := range m.lanes {
			l.resetDeferred()
		}
	}()

	reclaimed, err := m.reap(ctx)
	if err != nil {
		return summary, err
	}
	summary.Reclaimed = reclaimed

	for _, l := range m.lanes {
		if l.stage == queue.StageIndexing {
			if res, ok := m.reconcileIfStale(ctx); ok {
				summary.Reconcile = &res
			}
		}
		totals, err := m.drainLane(ctx, l)
		summary.Stages[l.stage] = totals
		if err != nil {
			summary.Duration = m.now().Sub(start)
			return summary, err
		}
	}

	if m.cfg.Workflow.CleanupEnabled {
		for {
			removed, err := m.Cleanup(ctx)
			summary.CleanedUp += removed
			if err != nil {
				summary.Duration = m.now().Sub(start)
				return summary, err
			}
			if removed == 0 {
				break
			}
		}
	}
	summary.Duration = m.now().Sub(start)
	m.logger.Info("workflow pass complete",
		logging.String(logging.FieldEventType, "workflow_pass_complete"),
		logging.Int64("reclaimed", summary.Reclaimed),
		logging.Int("cleaned_up", summary.CleanedUp),
		logging.Duration("duration", summary.Duration))
	if completed, failed := summary.totals(); completed+failed > 0 {
		m.notify(ctx, "pass_completed", func(c context.Context) error {
			return m.notifier.NotifyPassCompleted(c, completed, failed, summary.Duration)
		})
	}
	return summary, nil
}

func (m *Manager) drainLane(ctx context.Context, l *lane) (StageTotals, error) {
	var totals StageTotals
	for {
		if err := ctx.Err(); err != nil {
			return totals, err
		}
		batch, err := m.selectBatch(ctx, l)
		if err != nil {
			return totals, err
		}
		if len(batch) == 0 {
			return totals, nil
		}
		outcomes, err := m.processBatch(ctx, l, batch, farFuture)
		for _, o := range outcomes {
			totals.record(o)
		}
		if err != nil {
			return totals, err
		}
		if progress(outcomes) == 0 {
			return totals, nil
		}
	}
}

func progress(outcomes []outcome) int {
	n := 0
	for _, o := range outcomes {
		if o != outcomeSkipped && o != outcomeError {
			n++
		}
	}
	return n
}

func (m *Manager) selectBatch(ctx context.Context, l *lane) ([]*queue.Episode, error) {
	pending, err := m.store.SelectPending(ctx, l.stage, l.batchSize+l.deferredCount())
	if err != nil {
		m.setLastError(err)
		return nil, err
	}
	return l.eligible(pending, m.now()), nil
}

// Start launches one lane goroutine per active stage plus the reaper, the
// cleanup ticker and, when the resource cache is stale, a background rebuild
// that the indexing lane waits for.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("workflow started",
		logging.Int("lanes", len(m.lanes)),
		logging.Duration("poll_interval", m.pollInterval),
		logging.Duration("lease_timeout", m.leaseTTL))

	m.startCacheRebuild(runCtx)
	for _, l := range m.lanes {
		m.wg.Add(1)
		go m.runLane(runCtx, l)
	}
	m.wg.Add(1)
	go m.runTicker(runCtx, m.cfg.ReapInterval(), "reaper", func(ctx context.Context) {
		if _, err := m.reap(ctx); err != nil && ctx.Err() == nil {
			logging.ErrorWithContext(m.logger, "lease reaper failed", "lease_reap_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database health"))
		}
		if m.cacheStale() {
			m.startCacheRebuild(ctx)
		}
	})
	if m.cfg.Workflow.CleanupEnabled {
		m.wg.Add(1)
		go m.runTicker(runCtx, m.cfg.CleanupInterval(), "cleanup", func(ctx context.Context) {
			if _, err := m.Cleanup(ctx); err != nil && ctx.Err() == nil {
				logging.ErrorWithContext(m.logger, "audio cleanup failed", "cleanup_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check audio directory permissions"))
			}
		})
	}
	return nil
}

// Stop cancels all lanes and waits for in-flight episodes to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.cacheMu.Lock()
	m.cacheReady = nil
	m.cacheMu.Unlock()
	for _, l := range m.lanes {
		l.resetDeferred()
	}
	m.logger.Info("workflow stopped")
}

func (m *Manager) runLane(ctx context.Context, l *lane) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldStage, string(l.stage)))
	logger.Debug("lane started", logging.Int("workers", l.workers), logging.Int("batch_size", l.batchSize))

	if l.stage == queue.StageIndexing && !m.waitForCache(ctx) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := m.selectBatch(ctx, l)
		if err != nil {
			if ctx.Err() == nil {
				logging.ErrorWithContext(logger, "failed to select pending episodes", "select_pending_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database health"))
			}
			if !m.waitForWork(ctx) {
				return
			}
			continue
		}
		if len(batch) == 0 {
			if !m.waitForWork(ctx) {
				return
			}
			continue
		}
		outcomes, err := m.processBatch(ctx, l, batch, m.now().Add(m.pollInterval))
		if err != nil && ctx.Err() == nil {
			logging.ErrorWithContext(logger, "stage batch aborted", "stage_batch_failed", logging.Error(err))
			m.notify(ctx, "stage batch aborted", func(nctx context.Context) error {
				return m.notifier.NotifyError(nctx, err, string(l.stage)+" lane")
			})
		}
		if progress(outcomes) == 0 && !m.waitForWork(ctx) {
			return
		}
	}
}

func (m *Manager) waitForWork(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.pollInterval):
		return true
	}
}

func (m *Manager) runTicker(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) {
	defer m.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Debug("ticker started", logging.String("ticker", name), logging.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
