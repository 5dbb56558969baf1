package workflow

import (
	"context"
	"errors"
	"time"

	"podindex/internal/logging"
	"podindex/internal/queue"
)

// heartbeatLoop extends the lease every heartbeat interval until ctx ends or
// the lease is lost.
func (m *Manager) heartbeatLoop(ctx context.Context, lease queue.Lease) {
	if m.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	logger := logging.WithContext(ctx, m.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := m.store.ExtendLease(ctx, lease, m.leaseTTL)
			if err == nil {
				lease = extended
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrLeaseLost) {
				logging.WarnWithContext(logger, "lease lost during heartbeat", "lease_lost",
					logging.Error(err),
					logging.String(logging.FieldImpact, "stage result will be discarded"))
				return
			}
			logging.WarnWithContext(logger, "lease heartbeat failed", "heartbeat_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "lease may expire before the stage finishes"),
				logging.String(logging.FieldErrorHint, "check queue database health"))
		}
	}
}

// reap returns every expired in-progress lease to pending.
func (m *Manager) reap(ctx context.Context) (int64, error) {
	reclaimed, err := m.store.ReclaimExpiredLeases(ctx, m.now())
	if err != nil {
		m.setLastError(err)
		return 0, err
	}
	if reclaimed > 0 {
		logging.WarnWithContext(m.logger, "reclaimed expired leases", "lease_reclaimed",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldImpact, "episodes returned to pending and will be processed again"),
			logging.String(logging.FieldErrorHint, "a previous worker crashed or stalled"))
	}
	return reclaimed, nil
}
