package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services"
	"podindex/internal/stage"
)

// processBatch claims and runs each episode on a pool bounded by the lane's
// worker count. Only store errors are returned; stage failures are resolved
// per episode.
func (m *Manager) processBatch(ctx context.Context, l *lane, batch []*queue.Episode, retryAt time.Time) ([]outcome, error) {
	outcomes := make([]outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, ep := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, err := m.processEpisode(gctx, l, ep)
			outcomes[i] = o
			if o == outcomeRetried || o == outcomeLeaseLost {
				l.deferUntil(ep.ID, retryAt)
			}
			return err
		})
	}
	return outcomes, g.Wait()
}

func (m *Manager) processEpisode(ctx context.Context, l *lane, ep *queue.Episode) (outcome, error) {
	lease, ok, err := m.store.Claim(ctx, ep.ID, l.stage, m.leaseTTL)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted, nil
		}
		m.setLastError(err)
		return outcomeError, err
	}
	if !ok {
		m.logger.Debug("episode not eligible for claim",
			logging.Int64(logging.FieldItemID, ep.ID),
			logging.String(logging.FieldStage, string(l.stage)))
		return outcomeSkipped, nil
	}

	ctx = services.WithItemID(ctx, ep.ID)
	ctx = services.WithStage(ctx, string(l.stage))
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("episode_title", ep.Title),
		logging.Int("retry_count", ep.State(l.stage).RetryCount))

	start := m.now()
	result, execErr := m.executeWithHeartbeat(ctx, l.handler, lease, ep)

	if ctx.Err() != nil {
		if err := m.store.Release(context.WithoutCancel(ctx), lease); err != nil && !errors.Is(err, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "failed to release claim on shutdown", "lease_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "episode stays in progress until its lease expires"))
		}
		logger.Info("stage interrupted", logging.String(logging.FieldEventType, "stage_interrupted"))
		return outcomeInterrupted, nil
	}

	if execErr == nil && result == nil {
		execErr = stage.Transient(l.stage, "execute", "handler returned no result", nil)
	}
	if execErr != nil {
		return m.handleStageFailure(ctx, lease, ep, execErr)
	}

	if err := m.store.Complete(ctx, lease, result); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "lease lost before completion", "lease_lost",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stage result discarded; episode will be processed again"),
				logging.String(logging.FieldErrorHint, "raise workflow.lease_timeout if stages routinely outlive it"))
			return outcomeLeaseLost, nil
		}
		m.setLastError(err)
		return outcomeError, fmt.Errorf("complete %s for episode %d: %w", l.stage, ep.ID, err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", m.now().Sub(start)))
	return outcomeCompleted, nil
}

// executeWithHeartbeat runs the handler while a background loop extends the
// lease. A panicking handler is converted into a transient failure.
func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, lease queue.Lease, ep *queue.Episode) (result queue.Result, err error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.heartbeatLoop(hbCtx, lease)
	}()
	defer func() {
		hbCancel()
		<-done
	}()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = stage.Transient(lease.Stage, "execute", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handler.Execute(ctx, ep)
}
