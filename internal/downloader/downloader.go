package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"podindex/internal/config"
	"podindex/internal/fileutil"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/stage"
	"podindex/internal/textutil"
)

const maxFileNameLength = 200

var mimeExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/wav":   ".wav",
}

// Handler downloads enclosures.
type Handler struct {
	audioDir  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ stage.Handler = (*Handler)(nil)

// Option customizes the handler.
type Option func(*Handler)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		if client != nil {
			h.client = client
		}
	}
}

// NewHandler builds a download handler from configuration.
func NewHandler(cfg *config.Config, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		audioDir:  cfg.Paths.AudioDir,
		userAgent: cfg.Download.UserAgent,
		client:    &http.Client{Timeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second},
		limiter:   newLimiter(cfg.Download.BytesPerSecond),
		logger:    logging.NewComponentLogger(logger, "downloader"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stage reports the stage this handler serves.
func (h *Handler) Stage() queue.Stage { return queue.StageDownload }

// Execute downloads the episode's enclosure.
func (h *Handler) Execute(ctx context.Context, episode *queue.Episode) (queue.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	source := strings.TrimSpace(episode.EnclosureURL)
	if source == "" {
		return nil, stage.Permanent(queue.StageDownload, "resolve enclosure", "episode has no enclosure URL", nil)
	}

	dest := h.destination(episode)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, stage.Transient(queue.StageDownload, "prepare directory", filepath.Dir(dest), err)
	}

	// A completed earlier attempt whose result was never recorded leaves the
	// file in place; reuse it unless it contradicts a hash already on the row.
	if fileutil.NonEmpty(dest) {
		hash, size, err := fileutil.HashFile(dest)
		if err == nil && (episode.FileHash == "" || episode.FileHash == hash) {
			logger.Info("reusing downloaded audio", logging.String("path", dest))
			return queue.DownloadResult{LocalFilePath: dest, FileSize: size, FileHash: hash}, nil
		}
	}

	started := time.Now()
	hash, size, err := h.fetch(ctx, source, dest)
	if err != nil {
		return nil, err
	}

	logger.Info("episode downloaded",
		logging.String("path", dest),
		logging.String("size", humanize.Bytes(uint64(size))),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)
	return queue.DownloadResult{LocalFilePath: dest, FileSize: size, FileHash: hash}, nil
}

func (h *Handler) fetch(ctx context.Context, source, dest string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", 0, stage.Permanent(queue.StageDownload, "build request", "invalid enclosure URL", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", 0, stage.Transient(queue.StageDownload, "fetch", source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return "", 0, stage.Permanent(queue.StageDownload, "fetch",
			fmt.Sprintf("enclosure returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		return "", 0, stage.Transient(queue.StageDownload, "fetch",
			fmt.Sprintf("enclosure returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return "", 0, stage.Permanent(queue.StageDownload, "fetch",
			fmt.Sprintf("enclosure returned %d", resp.StatusCode), nil)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return "", 0, stage.Transient(queue.StageDownload, "create temp file", dest, err)
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) (string, int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", 0, stage.Transient(queue.StageDownload, op, dest, err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), throttle(ctx, resp.Body, h.limiter))
	if err != nil {
		return fail("copy body", err)
	}
	if size == 0 {
		return fail("copy body", errors.New("empty response body"))
	}
	if resp.ContentLength > 0 && size != resp.ContentLength {
		return fail("copy body", fmt.Errorf("short read: got %d of %d bytes", size, resp.ContentLength))
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, stage.Transient(queue.StageDownload, "close", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, stage.Transient(queue.StageDownload, "rename", dest, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

func (h *Handler) destination(episode *queue.Episode) string {
	podcastDir := textutil.SanitizeFileName(episode.PodcastTitle, fmt.Sprintf("podcast-%d", episode.PodcastID))
	return filepath.Join(h.audioDir, podcastDir, FileName(episode))
}

// FileName builds the local file name for an episode: the sanitized title,
// the episode's artifact tag, and an extension taken from the enclosure URL,
// then the MIME type, then ".mp3".
func FileName(episode *queue.Episode) string {
	ext := ""
	if u, err := url.Parse(episode.EnclosureURL); err == nil {
		if unescaped, err := url.PathUnescape(path.Base(u.Path)); err == nil {
			ext = strings.ToLower(path.Ext(unescaped))
		}
	}
	if ext == "" || len(ext) > 5 {
		ext = mimeExtensions[strings.ToLower(episode.EnclosureType)]
	}
	if ext == "" {
		ext = ".mp3"
	}

	suffix := "_" + episode.ArtifactTag() + ext
	name := textutil.SanitizeFileName(episode.Title, fmt.Sprintf("episode-%d", episode.ID))
	name = textutil.TruncateRunes(name, maxFileNameLength-len(suffix))
	return name + suffix
}

// HealthCheck verifies the audio directory is writable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	name := string(queue.StageDownload)
	if strings.TrimSpace(h.audioDir) == "" {
		return stage.Unhealthy(name, "audio directory not configured")
	}
	if err := os.MkdirAll(h.audioDir, 0o755); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
