package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const podcastColumns = "id, feed_url, title, description, image_url, last_checked, created_at, updated_at"

func scanPodcast(scanner rowScanner) (*Podcast, error) {
	var (
		p           Podcast
		description sql.NullString
		imageURL    sql.NullString
		checkedRaw  sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&p.ID, &p.FeedURL, &p.Title, &description, &imageURL, &checkedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.ImageURL = imageURL.String
	p.LastChecked = parseNullableTime(checkedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	return &p, nil
}

// UpsertPodcast creates a subscription or refreshes the descriptive fields of
// an existing one. Empty input fields never overwrite stored values.
func (s *Store) UpsertPodcast(ctx context.Context, in PodcastInput) (*Podcast, error) {
	feedURL := strings.TrimSpace(in.FeedURL)
	if feedURL == "" {
		return nil, errors.New("feed url is required")
	}
	now := formatTime(s.timestamp())
	_, err := s.execWithRetry(ctx, `INSERT INTO podcasts (feed_url, title, description, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_url) DO UPDATE SET
			title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE podcasts.title END,
			description = COALESCE(excluded.description, podcasts.description),
			image_url = COALESCE(excluded.image_url, podcasts.image_url),
			updated_at = excluded.updated_at`,
		feedURL, strings.TrimSpace(in.Title), nullableString(in.Description), nullableString(in.ImageURL), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert podcast %s: %w", feedURL, err)
	}
	return s.GetPodcastByURL(ctx, feedURL)
}

// GetPodcast fetches a subscription by id. It returns nil, nil when none exists.
func (s *Store) GetPodcast(ctx context.Context, id int64) (*Podcast, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+podcastColumns+" FROM podcasts WHERE id = ?", id)
	p, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get podcast %d: %w", id, err)
	}
	return p, nil
}

// GetPodcastByURL fetches a subscription by feed URL. It returns nil, nil
// when none exists.
func (s *Store) GetPodcastByURL(ctx context.Context, feedURL string) (*Podcast, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+podcastColumns+" FROM podcasts WHERE feed_url = ?", strings.TrimSpace(feedURL))
	p, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get podcast %s: %w", feedURL, err)
	}
	return p, nil
}

// ListPodcasts returns every subscription ordered by title.
func (s *Store) ListPodcasts(ctx context.Context) ([]*Podcast, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+podcastColumns+" FROM podcasts ORDER BY title COLLATE NOCASE, id")
	if err != nil {
		return nil, fmt.Errorf("list podcasts: %w", err)
	}
	defer rows.Close()
	var podcasts []*Podcast
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}
		podcasts = append(podcasts, p)
	}
	return podcasts, rows.Err()
}

// RemovePodcast deletes a subscription and, through the foreign key cascade,
// all of its episodes. It reports whether a row was deleted.
func (s *Store) RemovePodcast(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM podcasts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("remove podcast %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove podcast rows affected: %w", err)
	}
	return affected > 0, nil
}

// TouchPodcast stamps last_checked after a feed sync.
func (s *Store) TouchPodcast(ctx context.Context, id int64, at time.Time) error {
	_, err := s.execWithRetry(ctx, "UPDATE podcasts SET last_checked = ?, updated_at = ? WHERE id = ?",
		formatTime(at), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("touch podcast %d: %w", id, err)
	}
	return nil
}

// AddEpisode inserts a newly discovered episode with every stage pending.
// An existing (podcast, guid) pair is returned unchanged with created false.
func (s *Store) AddEpisode(ctx context.Context, in EpisodeInput) (*Episode, bool, error) {
	guid := strings.TrimSpace(in.GUID)
	if guid == "" {
		guid = strings.TrimSpace(in.EnclosureURL)
	}
	if guid == "" {
		return nil, false, errors.New("episode guid or enclosure url is required")
	}
	if strings.TrimSpace(in.EnclosureURL) == "" {
		return nil, false, errors.New("episode enclosure url is required")
	}
	now := formatTime(s.timestamp())
	res, err := s.execWithRetry(ctx, `INSERT INTO episodes
		(podcast_id, guid, title, description, enclosure_url, enclosure_type, duration_seconds, published_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (podcast_id, guid) DO NOTHING`,
		in.PodcastID, guid, strings.TrimSpace(in.Title), nullableString(in.Description),
		strings.TrimSpace(in.EnclosureURL), nullableString(in.EnclosureType), in.DurationSeconds,
		nullableTime(in.PublishedDate), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("add episode %s: %w", guid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("add episode rows affected: %w", err)
	}

	row := s.db.QueryRowContext(ensureContext(ctx),
		fmt.Sprintf("SELECT %s %s WHERE e.podcast_id = ? AND e.guid = ?", episodeColumns, episodeFrom), in.PodcastID, guid)
	ep, err := scanEpisode(row)
	if err != nil {
		return nil, false, fmt.Errorf("load episode %s: %w", guid, err)
	}
	return ep, affected == 1, nil
}
