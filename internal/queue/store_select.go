package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// newestFirst orders by published date descending with undated episodes last,
// ties broken by insertion order.
const newestFirst = "ORDER BY e.published_date IS NULL, e.published_date DESC, e.id ASC"

// SelectPending returns up to limit episodes whose stage is pending and whose
// previous stage is completed. It is a snapshot read; nothing is claimed.
func (s *Store) SelectPending(ctx context.Context, stage Stage, limit int) ([]*Episode, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	where := []string{"e." + stage.column("status") + " = ?"}
	args := []any{string(StatusPending)}
	if prev, ok := stage.Previous(); ok {
		where = append(where, "e."+prev.column("status")+" = ?")
		args = append(args, string(StatusCompleted))
	}
	query := fmt.Sprintf("SELECT %s %s WHERE %s %s", episodeColumns, episodeFrom, strings.Join(where, " AND "), newestFirst)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending %s: %w", stage, err)
	}
	return scanEpisodes(rows)
}

// ReadyForCleanup returns fully processed episodes that still have a local
// audio file.
func (s *Store) ReadyForCleanup(ctx context.Context, limit int) ([]*Episode, error) {
	var where []string
	var args []any
	for _, stage := range Stages {
		where = append(where, "e."+stage.column("status")+" = ?")
		args = append(args, string(StatusCompleted))
	}
	where = append(where, "e.local_file_path IS NOT NULL", "e.audio_removed_at IS NULL")
	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY e.id ASC", episodeColumns, episodeFrom, strings.Join(where, " AND "))
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cleanup candidates: %w", err)
	}
	return scanEpisodes(rows)
}

// MarkAudioRemoved records that the local audio file was deleted. Stage
// fields are untouched.
func (s *Store) MarkAudioRemoved(ctx context.Context, episodeID int64, at time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE episodes SET audio_removed_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(s.timestamp()), episodeID)
	if err != nil {
		return fmt.Errorf("mark audio removed for episode %d: %w", episodeID, err)
	}
	return nil
}

// GetEpisode fetches one episode. It returns nil, nil when none exists.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		fmt.Sprintf("SELECT %s %s WHERE e.id = ?", episodeColumns, episodeFrom), id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %d: %w", id, err)
	}
	return ep, nil
}

// ListEpisodes returns episodes matching filter, newest first.
func (s *Store) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]*Episode, error) {
	var where []string
	var args []any
	if filter.PodcastID > 0 {
		where = append(where, "e.podcast_id = ?")
		args = append(args, filter.PodcastID)
	}
	if filter.Status != "" {
		stages := Stages
		if filter.Stage != "" {
			if !filter.Stage.Valid() {
				return nil, fmt.Errorf("%w: %q", ErrUnknownStage, filter.Stage)
			}
			stages = []Stage{filter.Stage}
		}
		var clauses []string
		for _, stage := range stages {
			clauses = append(clauses, "e."+stage.column("status")+" = ?")
			args = append(args, string(filter.Status))
		}
		where = append(where, "("+strings.Join(clauses, " OR ")+")")
	}

	query := fmt.Sprintf("SELECT %s %s", episodeColumns, episodeFrom)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " " + newestFirst
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return scanEpisodes(rows)
}

// EpisodesByID fetches the given episodes in one query.
func (s *Store) EpisodesByID(ctx context.Context, ids []int64) ([]*Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s %s WHERE e.id IN (%s) ORDER BY e.id", episodeColumns, episodeFrom, makePlaceholders(len(ids)))
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("episodes by id: %w", err)
	}
	return scanEpisodes(rows)
}
