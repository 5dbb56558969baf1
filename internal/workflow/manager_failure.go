package workflow

import (
	"context"
	"errors"
	"fmt"

	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services"
)

// handleStageFailure records execErr on the claimed stage and decides whether
// it goes back to pending or becomes terminal. Retries are allowed while
// retry_count+1 stays below workflow.max_retries.
func (m *Manager) handleStageFailure(ctx context.Context, lease queue.Lease, ep *queue.Episode, execErr error) (outcome, error) {
	logger := logging.WithContext(ctx, m.logger)
	message := execErr.Error()
	class := services.Classify(execErr)

	if err := m.store.Fail(ctx, lease, message); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "lease lost before failure was recorded", "lease_lost",
				logging.Error(err),
				logging.String("stage_error", message),
				logging.String(logging.FieldImpact, "episode will be processed again"))
			return outcomeLeaseLost, nil
		}
		m.setLastError(err)
		return outcomeError, fmt.Errorf("record %s failure for episode %d: %w", lease.Stage, ep.ID, err)
	}

	retryCount := ep.State(lease.Stage).RetryCount
	if class.Retryable() && retryCount+1 < m.maxRetries {
		if err := m.store.Retry(ctx, ep.ID, lease.Stage); err != nil {
			m.setLastError(err)
			return outcomeError, fmt.Errorf("retry %s for episode %d: %w", lease.Stage, ep.ID, err)
		}
		logging.WarnWithContext(logger, "stage failed; will retry", "stage_retry",
			logging.Error(execErr),
			logging.String("failure_class", string(class)),
			logging.Int("retry_count", retryCount+1),
			logging.Int("max_retries", m.maxRetries),
			logging.String(logging.FieldImpact, "episode returned to pending"))
		return outcomeRetried, nil
	}

	if err := m.store.PermanentlyFail(ctx, ep.ID, lease.Stage, message); err != nil {
		m.setLastError(err)
		return outcomeError, fmt.Errorf("permanently fail %s for episode %d: %w", lease.Stage, ep.ID, err)
	}
	hint := "inspect the error and run `podindex queue retry` once fixed"
	if class.Retryable() {
		hint = "retry budget exhausted; " + hint
	}
	logging.ErrorWithContext(logger, "stage permanently failed", "stage_failed",
		logging.Error(execErr),
		logging.String("failure_class", string(class)),
		logging.Int("retry_count", retryCount),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorHint, hint))
	m.notify(ctx, "permanent_failure", func(c context.Context) error {
		return m.notifier.NotifyPermanentFailure(c, ep.Title, string(lease.Stage), message)
	})
	return outcomePermanent, nil
}
