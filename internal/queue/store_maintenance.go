package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns per-stage counts of episodes in each status.
func (s *Store) Stats(ctx context.Context) (map[Stage]StageCounts, error) {
	parts := make([]string, 0, len(Stages))
	for _, stage := range Stages {
		parts = append(parts, fmt.Sprintf("SELECT '%s', %s, COUNT(1) FROM episodes GROUP BY %s",
			stage, stage.column("status"), stage.column("status")))
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), strings.Join(parts, " UNION ALL "))
	if err != nil {
		return nil, fmt.Errorf("episode stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]StageCounts, len(Stages))
	for _, stage := range Stages {
		stats[stage] = make(StageCounts)
	}
	for rows.Next() {
		var (
			stage  string
			status string
			count  int
		)
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, err
		}
		stats[Stage(stage)][Status(status)] = count
	}
	return stats, rows.Err()
}

// PodcastStats aggregates processing progress per subscription.
func (s *Store) PodcastStats(ctx context.Context) ([]PodcastSummary, error) {
	done := make([]string, 0, len(Stages))
	failed := make([]string, 0, len(Stages))
	for _, stage := range Stages {
		done = append(done, fmt.Sprintf("e.%s = 'completed'", stage.column("status")))
		failed = append(failed, fmt.Sprintf("e.%s = 'permanently_failed'", stage.column("status")))
	}
	query := fmt.Sprintf(`SELECT p.id, p.title, p.feed_url, p.last_checked,
			COUNT(e.id),
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)
		FROM podcasts p LEFT JOIN episodes e ON e.podcast_id = p.id
		GROUP BY p.id ORDER BY p.title COLLATE NOCASE, p.id`,
		strings.Join(done, " AND "), strings.Join(failed, " OR "))

	rows, err := s.db.QueryContext(ensureContext(ctx), query)
	if err != nil {
		return nil, fmt.Errorf("podcast stats: %w", err)
	}
	defer rows.Close()

	var summaries []PodcastSummary
	for rows.Next() {
		var (
			summary PodcastSummary
			checked sql.NullString
		)
		if err := rows.Scan(&summary.PodcastID, &summary.Title, &summary.FeedURL, &checked,
			&summary.Episodes, &summary.FullyProcessed, &summary.Failed); err != nil {
			return nil, err
		}
		summary.LastChecked = parseNullableTime(checked)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// CheckHealth returns diagnostic information about the episode database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	version, err := s.SchemaVersion(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("schema version: %w", err)
	}
	health.SchemaVersion = version

	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&health.IntegrityCheck); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	return health, nil
}

// Healthy reports whether the database is present, readable and intact.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && strings.EqualFold(h.IntegrityCheck, "ok")
}
