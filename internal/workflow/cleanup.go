package workflow

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"podindex/internal/logging"
)

func removeAudio(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Cleanup deletes local audio for up to one batch of fully processed
// episodes and stamps audio_removed_at. A file that is already gone counts as
// removed. It returns how many episodes were cleaned.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	episodes, err := m.store.ReadyForCleanup(ctx, max(m.cfg.Workflow.CleanupBatchSize, 1))
	if err != nil {
		m.setLastError(err)
		return 0, err
	}
	cleaned := 0
	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if path := strings.TrimSpace(ep.LocalFilePath); path != "" {
			if err := m.removeFile(path); err != nil {
				logging.WarnWithContext(m.logger, "failed to remove audio file", "cleanup_remove_failed",
					logging.Int64(logging.FieldItemID, ep.ID),
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldImpact, "audio stays on disk"),
					logging.String(logging.FieldErrorHint, "check audio directory permissions"))
				continue
			}
		}
		if err := m.store.MarkAudioRemoved(ctx, ep.ID, m.now()); err != nil {
			m.setLastError(err)
			return cleaned, err
		}
		cleaned++
	}
	if cleaned > 0 {
		m.logger.Info("audio cleanup complete",
			logging.String(logging.FieldEventType, "cleanup_complete"),
			logging.Int("removed", cleaned))
	}
	return cleaned, nil
}
