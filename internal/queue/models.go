package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Stage identifies one of the four ordered pipeline stages.
type Stage string

const (
	StageDownload   Stage = "download"
	StageTranscript Stage = "transcript"
	StageMetadata   Stage = "metadata"
	StageIndexing   Stage = "indexing"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageDownload, StageTranscript, StageMetadata, StageIndexing}

// ParseStage converts user input into a Stage.
func ParseStage(value string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	if !stage.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, value)
	}
	return stage, nil
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageDownload, StageTranscript, StageMetadata, StageIndexing:
		return true
	default:
		return false
	}
}

// Previous returns the stage that must be completed before s is eligible.
func (s Stage) Previous() (Stage, bool) {
	for i, stage := range Stages {
		if stage == s && i > 0 {
			return Stages[i-1], true
		}
	}
	return "", false
}

func (s Stage) column(suffix string) string {
	return string(s) + "_" + suffix
}

// Status is the lifecycle state of a single stage.
type Status string

const (
	StatusPending           Status = "pending"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// Statuses lists every stage status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusPermanentlyFailed}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, status := range Statuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// StageState captures one stage's columns.
type StageState struct {
	Status         Status
	Error          string
	RetryCount     int
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	CompletedAt    *time.Time
}

// Podcast is a feed subscription.
type Podcast struct {
	ID          int64
	FeedURL     string
	Title       string
	Description string
	ImageURL    string
	LastChecked *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Episode is a work item and its per-stage processing state.
type Episode struct {
	ID              int64
	PodcastID       int64
	PodcastTitle    string
	GUID            string
	Title           string
	Description     string
	EnclosureURL    string
	EnclosureType   string
	DurationSeconds int
	PublishedDate   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Download   StageState
	Transcript StageState
	Metadata   StageState
	Indexing   StageState

	LocalFilePath  string
	FileSize       int64
	FileHash       string
	AudioRemovedAt *time.Time

	TranscriptText string
	TranscriptPath string

	Summary  string
	Keywords []string
	Hosts    []string
	Guests   []string

	ResourceName string
	DisplayName  string
}

// State returns the state of the given stage.
func (e *Episode) State(stage Stage) StageState {
	switch stage {
	case StageDownload:
		return e.Download
	case StageTranscript:
		return e.Transcript
	case StageMetadata:
		return e.Metadata
	case StageIndexing:
		return e.Indexing
	default:
		return StageState{}
	}
}

func (e *Episode) stateRef(stage Stage) *StageState {
	switch stage {
	case StageDownload:
		return &e.Download
	case StageTranscript:
		return &e.Transcript
	case StageMetadata:
		return &e.Metadata
	case StageIndexing:
		return &e.Indexing
	default:
		return nil
	}
}

// FullyProcessed reports whether all four stages are completed.
func (e *Episode) FullyProcessed() bool {
	for _, stage := range Stages {
		if e.State(stage).Status != StatusCompleted {
			return false
		}
	}
	return true
}

// ArtifactTag identifies the episode in local file names and remote display
// names, so episodes that share a title never share artifacts. It is derived
// from the GUID and stays stable across database rebuilds; rows without a
// GUID fall back to the row id.
func (e *Episode) ArtifactTag() string {
	guid := strings.TrimSpace(e.GUID)
	if guid == "" {
		return fmt.Sprintf("id%d", e.ID)
	}
	sum := sha256.Sum256([]byte(guid))
	return hex.EncodeToString(sum[:4])
}

// Lease is proof of a successful claim. Complete, Fail, ExtendLease and
// Release all require the owner that Claim issued.
type Lease struct {
	EpisodeID int64
	Stage     Stage
	Owner     string
	ExpiresAt time.Time
}

// Result carries the stage-specific fields persisted by Complete.
type Result interface {
	Stage() Stage
	assignments() []assignment
}

type assignment struct {
	column string
	value  any
}

// DownloadResult records the local copy of the enclosure.
type DownloadResult struct {
	LocalFilePath string
	FileSize      int64
	FileHash      string
}

func (DownloadResult) Stage() Stage { return StageDownload }

func (r DownloadResult) assignments() []assignment {
	return []assignment{
		{"local_file_path", nullableString(r.LocalFilePath)},
		{"file_size", r.FileSize},
		{"file_hash", nullableString(r.FileHash)},
	}
}

// TranscriptResult records the transcript text and its file on disk.
type TranscriptResult struct {
	Text string
	Path string
}

func (TranscriptResult) Stage() Stage { return StageTranscript }

func (r TranscriptResult) assignments() []assignment {
	return []assignment{
		{"transcript_text", r.Text},
		{"transcript_path", nullableString(r.Path)},
	}
}

// MetadataResult records the structured fields extracted from a transcript.
type MetadataResult struct {
	Summary  string
	Keywords []string
	Hosts    []string
	Guests   []string
}

func (MetadataResult) Stage() Stage { return StageMetadata }

func (r MetadataResult) assignments() []assignment {
	return []assignment{
		{"ai_summary", r.Summary},
		{"ai_keywords", encodeList(r.Keywords)},
		{"ai_hosts", encodeList(r.Hosts)},
		{"ai_guests", encodeList(r.Guests)},
	}
}

// IndexingResult records the remote document handle.
type IndexingResult struct {
	ResourceName string
	DisplayName  string
}

func (IndexingResult) Stage() Stage { return StageIndexing }

func (r IndexingResult) assignments() []assignment {
	return []assignment{
		{"resource_name", r.ResourceName},
		{"display_name", r.DisplayName},
	}
}

// PodcastInput describes a subscription to create or refresh.
type PodcastInput struct {
	FeedURL     string
	Title       string
	Description string
	ImageURL    string
}

// EpisodeInput describes a newly discovered episode.
type EpisodeInput struct {
	PodcastID       int64
	GUID            string
	Title           string
	Description     string
	EnclosureURL    string
	EnclosureType   string
	DurationSeconds int
	PublishedDate   *time.Time
}

// EpisodeFilter narrows ListEpisodes. Zero values match everything.
type EpisodeFilter struct {
	PodcastID int64
	Stage     Stage
	Status    Status
	Limit     int
}

// StageCounts maps each status to the number of episodes in it for one stage.
type StageCounts map[Status]int

// PodcastSummary aggregates processing progress for one subscription.
type PodcastSummary struct {
	PodcastID      int64
	Title          string
	FeedURL        string
	Episodes       int
	FullyProcessed int
	Failed         int
	LastChecked    *time.Time
}

// DatabaseHealth describes the database file and schema state.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int64
	IntegrityCheck   string
	Error            string
}
