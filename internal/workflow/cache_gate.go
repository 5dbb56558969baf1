package workflow

import (
	"context"

	"podindex/internal/logging"
	"podindex/internal/reconcile"
)

func (m *Manager) cacheStale() bool {
	return m.reconciler != nil && m.reconciler.Cache() != nil && m.reconciler.Cache().IsStale()
}

// reconcileIfStale rebuilds a stale cache inline. A failed rebuild is logged
// and indexing proceeds without cache hits.
func (m *Manager) reconcileIfStale(ctx context.Context) (reconcile.Result, bool) {
	if !m.cacheStale() {
		return reconcile.Result{}, false
	}
	res, err := m.reconciler.Reconcile(ctx, false)
	if err != nil {
		logging.WarnWithContext(m.logger, "resource cache rebuild failed", "cache_rebuild_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "indexing uploads without cache lookups"),
			logging.String(logging.FieldErrorHint, "check document store credentials and connectivity"))
	}
	return res, true
}

// startCacheRebuild launches a background rebuild when the cache is stale and
// none is running. The first rebuild after Start gates the indexing lane.
func (m *Manager) startCacheRebuild(ctx context.Context) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.reconciling || !m.cacheStale() {
		if m.cacheReady == nil {
			m.cacheReady = make(chan struct{})
			close(m.cacheReady)
		}
		return
	}
	var ready chan struct{}
	if m.cacheReady == nil {
		ready = make(chan struct{})
		m.cacheReady = ready
	}
	m.reconciling = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("rebuilding stale resource cache in background",
			logging.String(logging.FieldEventType, "cache_rebuild_start"))
		m.reconcileIfStale(ctx)
		m.cacheMu.Lock()
		m.reconciling = false
		m.cacheMu.Unlock()
		if ready != nil {
			close(ready)
		}
	}()
}

// waitForCache blocks the indexing lane until the first rebuild finishes.
func (m *Manager) waitForCache(ctx context.Context) bool {
	m.cacheMu.Lock()
	ready := m.cacheReady
	m.cacheMu.Unlock()
	if ready == nil {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-ready:
		return true
	}
}
