package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Claim atomically moves stage from pending to in_progress for one episode.
// The second return value is false when the episode is not eligible: it is
// missing, already claimed, in another state, or its previous stage is not
// completed. Callers treat that as a lost race and skip the episode.
func (s *Store) Claim(ctx context.Context, episodeID int64, stage Stage, ttl time.Duration) (Lease, bool, error) {
	if !stage.Valid() {
		return Lease{}, false, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	now := s.timestamp()
	lease := Lease{
		EpisodeID: episodeID,
		Stage:     stage,
		Owner:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	query := fmt.Sprintf(`UPDATE episodes
		SET %[1]s = ?, %[2]s = ?, %[3]s = ?, updated_at = ?
		WHERE id = ? AND %[1]s = ?`,
		stage.column("status"), stage.column("lease_owner"), stage.column("lease_expires_at"))
	args := []any{string(StatusInProgress), lease.Owner, formatTime(lease.ExpiresAt), formatTime(now), episodeID, string(StatusPending)}
	if prev, ok := stage.Previous(); ok {
		query += fmt.Sprintf(" AND %s = ?", prev.column("status"))
		args = append(args, string(StatusCompleted))
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return Lease{}, false, fmt.Errorf("claim %s for episode %d: %w", stage, episodeID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Lease{}, false, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected != 1 {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Complete moves a claimed stage to completed, persisting the result fields
// and clearing the stage error and lease.
func (s *Store) Complete(ctx context.Context, lease Lease, result Result) error {
	if result == nil || result.Stage() != lease.Stage {
		return fmt.Errorf("%w: result does not belong to stage %s", ErrInvalidTransition, lease.Stage)
	}
	now := formatTime(s.timestamp())
	sets := []string{
		lease.Stage.column("status") + " = ?",
		lease.Stage.column("error") + " = NULL",
		lease.Stage.column("lease_owner") + " = NULL",
		lease.Stage.column("lease_expires_at") + " = NULL",
		lease.Stage.column("completed_at") + " = ?",
		"updated_at = ?",
	}
	args := []any{string(StatusCompleted), now, now}
	for _, a := range result.assignments() {
		sets = append(sets, a.column+" = ?")
		args = append(args, a.value)
	}
	return s.resolveLease(ctx, lease, "complete", sets, args)
}

// Fail moves a claimed stage to failed and records message. The retry count
// is left alone; Retry charges it.
func (s *Store) Fail(ctx context.Context, lease Lease, message string) error {
	sets := []string{
		lease.Stage.column("status") + " = ?",
		lease.Stage.column("error") + " = ?",
		lease.Stage.column("lease_owner") + " = NULL",
		lease.Stage.column("lease_expires_at") + " = NULL",
		"updated_at = ?",
	}
	args := []any{string(StatusFailed), message, formatTime(s.timestamp())}
	return s.resolveLease(ctx, lease, "fail", sets, args)
}

// Release hands a claimed stage back to pending without charging a retry.
// Used when shutdown interrupts work that never reached the collaborator.
func (s *Store) Release(ctx context.Context, lease Lease) error {
	sets := []string{
		lease.Stage.column("status") + " = ?",
		lease.Stage.column("lease_owner") + " = NULL",
		lease.Stage.column("lease_expires_at") + " = NULL",
		"updated_at = ?",
	}
	args := []any{string(StatusPending), formatTime(s.timestamp())}
	return s.resolveLease(ctx, lease, "release", sets, args)
}

// ExtendLease pushes the lease expiry forward. It returns ErrLeaseLost when
// the claim has been reaped or resolved.
func (s *Store) ExtendLease(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	expires := s.timestamp().Add(ttl)
	sets := []string{lease.Stage.column("lease_expires_at") + " = ?"}
	if err := s.resolveLease(ctx, lease, "extend lease", sets, []any{formatTime(expires)}); err != nil {
		return lease, err
	}
	lease.ExpiresAt = expires
	return lease, nil
}

func (s *Store) resolveLease(ctx context.Context, lease Lease, op string, sets []string, args []any) error {
	if !lease.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, lease.Stage)
	}
	query := fmt.Sprintf("UPDATE episodes SET %s WHERE id = ? AND %s = ? AND %s = ?",
		strings.Join(sets, ", "), lease.Stage.column("status"), lease.Stage.column("lease_owner"))
	args = append(args, lease.EpisodeID, string(StatusInProgress), lease.Owner)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s for episode %d: %w", op, lease.Stage, lease.EpisodeID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s for episode %d: %w", op, lease.Stage, lease.EpisodeID, ErrLeaseLost)
	}
	return nil
}

// Retry moves a failed stage back to pending, increments its retry count and
// clears the error.
func (s *Store) Retry(ctx context.Context, episodeID int64, stage Stage) error {
	return s.transition(ctx, episodeID, stage, StatusFailed, "retry",
		[]string{
			stage.column("status") + " = ?",
			stage.column("retry_count") + " = " + stage.column("retry_count") + " + 1",
			stage.column("error") + " = NULL",
		},
		[]any{string(StatusPending)})
}

// PermanentlyFail moves a failed stage to permanently_failed. The episode is
// never selected for this stage or any later one again.
func (s *Store) PermanentlyFail(ctx context.Context, episodeID int64, stage Stage, message string) error {
	return s.transition(ctx, episodeID, stage, StatusFailed, "permanently fail",
		[]string{
			stage.column("status") + " = ?",
			stage.column("error") + " = ?",
		},
		[]any{string(StatusPermanentlyFailed), message})
}

// ResetStage is the operator override behind `queue retry`. It sits outside
// the pipeline state machine: workers never call it, and it is the only path
// out of permanently_failed. A failed or permanently failed stage goes back
// to pending with its error cleared and a fresh retry budget; any other
// status is left alone and reported as ErrInvalidTransition.
func (s *Store) ResetStage(ctx context.Context, episodeID int64, stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	query := fmt.Sprintf(`UPDATE episodes
		SET %[1]s = ?, %[2]s = NULL, %[3]s = 0, updated_at = ?
		WHERE id = ? AND %[1]s IN (?, ?)`,
		stage.column("status"), stage.column("error"), stage.column("retry_count"))
	res, err := s.execWithRetry(ctx, query,
		string(StatusPending), formatTime(s.timestamp()), episodeID, string(StatusFailed), string(StatusPermanentlyFailed))
	if err != nil {
		return fmt.Errorf("reset %s for episode %d: %w", stage, episodeID, err)
	}
	return requireOneRow(res, "reset", stage, episodeID)
}

func (s *Store) transition(ctx context.Context, episodeID int64, stage Stage, from Status, op string, sets []string, args []any) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.timestamp()), episodeID, string(from))
	query := fmt.Sprintf("UPDATE episodes SET %s WHERE id = ? AND %s = ?",
		strings.Join(sets, ", "), stage.column("status"))

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s for episode %d: %w", op, stage, episodeID, err)
	}
	return requireOneRow(res, op, stage, episodeID)
}

func requireOneRow(res interface{ RowsAffected() (int64, error) }, op string, stage Stage, episodeID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s for episode %d: %w", op, stage, episodeID, ErrInvalidTransition)
	}
	return nil
}

// ReclaimExpiredLeases returns in_progress stages whose lease expired before
// now to pending. Retry counts are not charged. It returns the number of
// stages reclaimed.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now)
	updated := formatTime(s.timestamp())
	var total int64
	for _, stage := range Stages {
		query := fmt.Sprintf(`UPDATE episodes
			SET %[1]s = ?, %[2]s = NULL, %[3]s = NULL, updated_at = ?
			WHERE %[1]s = ? AND (%[3]s IS NULL OR %[3]s < ?)`,
			stage.column("status"), stage.column("lease_owner"), stage.column("lease_expires_at"))
		res, err := s.execWithRetry(ctx, query, string(StatusPending), updated, string(StatusInProgress), cutoff)
		if err != nil {
			return total, fmt.Errorf("reclaim %s leases: %w", stage, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("reclaim rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}
