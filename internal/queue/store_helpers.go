package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const episodeFrom = "FROM episodes e LEFT JOIN podcasts p ON p.id = e.podcast_id"

const episodeColumns = `
	e.id, e.podcast_id, COALESCE(p.title, ''), e.guid, e.title, e.description,
	e.enclosure_url, e.enclosure_type, e.duration_seconds, e.published_date, e.created_at,
	e.updated_at, e.download_status, e.download_error, e.download_retry_count,
	e.download_lease_owner, e.download_lease_expires_at, e.download_completed_at,
	e.transcript_status, e.transcript_error, e.transcript_retry_count,
	e.transcript_lease_owner, e.transcript_lease_expires_at, e.transcript_completed_at,
	e.metadata_status, e.metadata_error, e.metadata_retry_count, e.metadata_lease_owner,
	e.metadata_lease_expires_at, e.metadata_completed_at, e.indexing_status,
	e.indexing_error, e.indexing_retry_count, e.indexing_lease_owner,
	e.indexing_lease_expires_at, e.indexing_completed_at, e.local_file_path, e.file_size,
	e.file_hash, e.audio_removed_at, e.transcript_text, e.transcript_path, e.ai_summary,
	e.ai_keywords, e.ai_hosts, e.ai_guests, e.resource_name, e.display_name`

type rowScanner interface {
	Scan(dest ...any) error
}

type stageColumns struct {
	status     string
	errMsg     sql.NullString
	retryCount int
	owner      sql.NullString
	expiresRaw sql.NullString
	doneRaw    sql.NullString
}

func (c *stageColumns) targets() []any {
	return []any{&c.status, &c.errMsg, &c.retryCount, &c.owner, &c.expiresRaw, &c.doneRaw}
}

func (c *stageColumns) state() StageState {
	return StageState{
		Status:         Status(c.status),
		Error:          c.errMsg.String,
		RetryCount:     c.retryCount,
		LeaseOwner:     c.owner.String,
		LeaseExpiresAt: parseNullableTime(c.expiresRaw),
		CompletedAt:    parseNullableTime(c.doneRaw),
	}
}

func scanEpisode(scanner rowScanner) (*Episode, error) {
	var (
		ep             Episode
		description    sql.NullString
		enclosureType  sql.NullString
		publishedRaw   sql.NullString
		createdRaw     string
		updatedRaw     string
		stages         [4]stageColumns
		localPath      sql.NullString
		fileHash       sql.NullString
		removedRaw     sql.NullString
		transcriptText sql.NullString
		transcriptPath sql.NullString
		summary        sql.NullString
		keywords       sql.NullString
		hosts          sql.NullString
		guests         sql.NullString
		resourceName   sql.NullString
		displayName    sql.NullString
	)

	dest := []any{
		&ep.ID, &ep.PodcastID, &ep.PodcastTitle, &ep.GUID, &ep.Title, &description,
		&ep.EnclosureURL, &enclosureType, &ep.DurationSeconds, &publishedRaw, &createdRaw, &updatedRaw,
	}
	for i := range stages {
		dest = append(dest, stages[i].targets()...)
	}
	dest = append(dest,
		&localPath, &ep.FileSize, &fileHash, &removedRaw,
		&transcriptText, &transcriptPath,
		&summary, &keywords, &hosts, &guests,
		&resourceName, &displayName,
	)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	ep.Description = description.String
	ep.EnclosureType = enclosureType.String
	ep.PublishedDate = parseNullableTime(publishedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		ep.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		ep.UpdatedAt = updated
	}
	for i, stage := range Stages {
		*ep.stateRef(stage) = stages[i].state()
	}
	ep.LocalFilePath = localPath.String
	ep.FileHash = fileHash.String
	ep.AudioRemovedAt = parseNullableTime(removedRaw)
	ep.TranscriptText = transcriptText.String
	ep.TranscriptPath = transcriptPath.String
	ep.Summary = summary.String
	ep.Keywords = decodeList(keywords.String)
	ep.Hosts = decodeList(hosts.String)
	ep.Guests = decodeList(guests.String)
	ep.ResourceName = resourceName.String
	ep.DisplayName = displayName.String
	return &ep, nil
}

func scanEpisodes(rows *sql.Rows) ([]*Episode, error) {
	defer rows.Close()
	var episodes []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func encodeList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
