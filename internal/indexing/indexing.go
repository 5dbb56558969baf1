package indexing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"podindex/internal/docstore"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/resourcecache"
	"podindex/internal/stage"
	"podindex/internal/textutil"
)

const (
	maxTitleRunes    = 100
	transcriptSuffix = "_transcription.txt"
	documentType     = "transcript"
)

// Handler runs the indexing stage.
type Handler struct {
	store     docstore.Store
	cache     *resourcecache.Cache
	storeName string
	logger    *slog.Logger

	mu      sync.Mutex
	storeID string
}

var _ stage.Handler = (*Handler)(nil)

// NewHandler builds an indexing handler that uploads into the named store.
func NewHandler(store docstore.Store, cache *resourcecache.Cache, storeName string, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		cache:     cache,
		storeName: storeName,
		logger:    logging.NewComponentLogger(logger, "indexing"),
	}
}

// Stage reports the stage this handler serves.
func (h *Handler) Stage() queue.Stage { return queue.StageIndexing }

// Execute uploads the transcript unless the cache already maps its display
// name to a remote document.
func (h *Handler) Execute(ctx context.Context, episode *queue.Episode) (queue.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	text, err := transcriptText(episode)
	if err != nil {
		return nil, err
	}
	displayName := DisplayName(episode)
	if displayName == "" {
		return nil, stage.Permanent(queue.StageIndexing, "display name", "episode has no usable display name", nil)
	}
	logger = logger.With(logging.String(logging.FieldDisplayName, displayName))

	if h.cache != nil && !h.cache.IsStale() {
		if entry, ok := h.cache.Lookup(displayName); ok {
			logger.Info("transcript already indexed", logging.String("resource_name", entry.ResourceHandle))
			return queue.IndexingResult{ResourceName: entry.ResourceHandle, DisplayName: displayName}, nil
		}
	} else {
		logging.WarnWithContext(logger, "resource cache stale; uploading without duplicate check", "resource_cache_stale",
			logging.String(logging.FieldErrorHint, "run `podindex cache rebuild`"),
			logging.String(logging.FieldImpact, "a duplicate remote document may be created"))
	}

	storeID, err := h.resolveStore(ctx)
	if err != nil {
		return nil, classify("resolve store", "document store unavailable", err)
	}

	metadata := Metadata(episode)
	handle, err := h.store.Upload(ctx, storeID, docstore.Upload{
		DisplayName: displayName,
		MIMEType:    "text/plain",
		Content:     []byte(text),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, classify("upload", "transcript upload failed", err)
	}
	logger.Info("transcript uploaded", logging.String("resource_name", handle))

	h.record(logger, displayName, resourcecache.Entry{ResourceHandle: handle, Metadata: metadata})
	return queue.IndexingResult{ResourceName: handle, DisplayName: displayName}, nil
}

// record stores the new entry. Cache failures are logged and never fail
// the stage: the upload already happened.
func (h *Handler) record(logger *slog.Logger, key string, entry resourcecache.Entry) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Put(key, entry); err != nil {
		logging.WarnWithContext(logger, "resource cache update rejected", "resource_cache_put_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `podindex cache duplicates` to inspect the store"),
			logging.String(logging.FieldImpact, "cache keeps the previously recorded handle"))
		return
	}
	if err := h.cache.Persist(); err != nil {
		logging.WarnWithContext(logger, "resource cache persist failed", "resource_cache_persist_failed",
			logging.Error(err),
			logging.String("path", h.cache.Path()),
			logging.String(logging.FieldImpact, "entry kept in memory only until the next successful persist"))
	}
}

func (h *Handler) resolveStore(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.storeID != "" {
		return h.storeID, nil
	}
	id, err := h.store.CreateOrGetStore(ctx, h.storeName)
	if err != nil {
		return "", err
	}
	h.storeID = id
	return id, nil
}

// DisplayName derives the remote document name: the transcript file's base
// name when known, otherwise the title made safe and bounded, followed by
// the episode's artifact tag and "_transcription.txt". The result is a
// sanitized cache key.
func DisplayName(episode *queue.Episode) string {
	if path := strings.TrimSpace(episode.TranscriptPath); path != "" {
		return resourcecache.SanitizeKey(filepath.Base(path))
	}
	title := textutil.SafeTitle(episode.Title, maxTitleRunes)
	if title == "" {
		return ""
	}
	return resourcecache.SanitizeKey(title + "_" + episode.ArtifactTag() + transcriptSuffix)
}

// Metadata builds the remote custom metadata for an episode.
func Metadata(episode *queue.Episode) map[string]string {
	values := map[string]string{
		docstore.MetaType:     documentType,
		docstore.MetaPodcast:  episode.PodcastTitle,
		docstore.MetaEpisode:  episode.Title,
		docstore.MetaHosts:    docstore.JoinList(episode.Hosts),
		docstore.MetaGuests:   docstore.JoinList(episode.Guests),
		docstore.MetaKeywords: docstore.JoinList(episode.Keywords),
		docstore.MetaSummary:  episode.Summary,
	}
	if episode.PublishedDate != nil {
		values[docstore.MetaReleaseDate] = episode.PublishedDate.UTC().Format("2006-01-02")
	}
	return docstore.NormalizeMetadata(values)
}

func transcriptText(episode *queue.Episode) (string, error) {
	if text := strings.TrimSpace(episode.TranscriptText); text != "" {
		return text, nil
	}
	if episode.TranscriptPath != "" {
		if data, err := os.ReadFile(episode.TranscriptPath); err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text, nil
			}
		}
	}
	return "", stage.Permanent(queue.StageIndexing, "load transcript", "transcript text missing", nil)
}

type temporary interface {
	Temporary() bool
}

func classify(operation, message string, err error) error {
	var t temporary
	if errors.As(err, &t) && !t.Temporary() {
		return stage.Permanent(queue.StageIndexing, operation, message, err)
	}
	return stage.Transient(queue.StageIndexing, operation, message, err)
}

// HealthCheck resolves the remote store.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	name := string(queue.StageIndexing)
	if h.store == nil {
		return stage.Unhealthy(name, "document store not configured")
	}
	if _, err := h.resolveStore(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
