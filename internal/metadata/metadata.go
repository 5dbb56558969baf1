// Package metadata implements the metadata stage: an LLM reads the
// transcript and returns a summary, keywords, hosts and guests, which are
// validated and cleaned before they are stored.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/cases"

	"podindex/internal/config"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services/llm"
	"podindex/internal/stage"
)

const maxListItems = 25

// ErrInvalidMetadata marks extractor output that fails validation.
var ErrInvalidMetadata = errors.New("invalid metadata")

// Extractor produces structured metadata from a transcript.
type Extractor interface {
	ExtractEpisodeMetadata(ctx context.Context, transcript, title string) (llm.EpisodeMetadata, error)
	HealthCheck(ctx context.Context) error
}

// Handler runs the metadata stage.
type Handler struct {
	extractor Extractor
	logger    *slog.Logger
}

var _ stage.Handler = (*Handler)(nil)

// NewHandler builds a metadata handler. A nil extractor uses the LLM client
// configured from cfg.
func NewHandler(cfg *config.Config, extractor Extractor, logger *slog.Logger) *Handler {
	if extractor == nil {
		extractor = llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		})
	}
	return &Handler{extractor: extractor, logger: logging.NewComponentLogger(logger, "metadata")}
}

// Stage reports the stage this handler serves.
func (h *Handler) Stage() queue.Stage { return queue.StageMetadata }

// Execute extracts and validates metadata for the episode's transcript.
func (h *Handler) Execute(ctx context.Context, episode *queue.Episode) (queue.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	transcript, err := transcriptText(episode)
	if err != nil {
		return nil, err
	}

	raw, err := h.extractor.ExtractEpisodeMetadata(ctx, transcript, episode.Title)
	switch {
	case errors.Is(err, llm.ErrMalformedResponse):
		return nil, stage.Validation(queue.StageMetadata, "extract", "model returned malformed JSON", err)
	case llm.IsPermanent(err):
		return nil, stage.Permanent(queue.StageMetadata, "extract", "model request rejected", err)
	case err != nil:
		return nil, stage.Transient(queue.StageMetadata, "extract", "model request failed", err)
	}

	if len(cleanList(raw.Hosts)) == 0 && len(cleanList(raw.CoHosts)) == 0 {
		artist, err := audioArtist(episode.LocalFilePath)
		switch {
		case err != nil:
			logger.Debug("audio tags unavailable", logging.String("path", episode.LocalFilePath), logging.Error(err))
		case artist != "":
			logger.Info("host taken from audio tags", logging.String("artist", artist))
			raw.Hosts = []string{artist}
		}
	}

	result, err := Validate(raw)
	if err != nil {
		return nil, stage.Validation(queue.StageMetadata, "validate", "extracted metadata rejected", err)
	}
	logger.Info("metadata extracted",
		logging.Int("keywords", len(result.Keywords)),
		logging.Int("hosts", len(result.Hosts)),
		logging.Int("guests", len(result.Guests)),
	)
	return result, nil
}

func transcriptText(episode *queue.Episode) (string, error) {
	if text := strings.TrimSpace(episode.TranscriptText); text != "" {
		return text, nil
	}
	if episode.TranscriptPath != "" {
		data, err := os.ReadFile(episode.TranscriptPath)
		if err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text, nil
			}
		}
	}
	return "", stage.Permanent(queue.StageMetadata, "load transcript", "transcript text missing", nil)
}

// Validate checks the extractor output and normalizes it: the summary must
// be non-empty and there must be at least one keyword. Lists are trimmed and
// de-duplicated case-insensitively, keeping first-seen order.
func Validate(raw llm.EpisodeMetadata) (queue.MetadataResult, error) {
	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return queue.MetadataResult{}, fmt.Errorf("%w: empty summary", ErrInvalidMetadata)
	}
	keywords := cleanList(raw.Keywords)
	if len(keywords) == 0 {
		return queue.MetadataResult{}, fmt.Errorf("%w: no keywords", ErrInvalidMetadata)
	}
	hosts := cleanList(append(append([]string(nil), raw.Hosts...), raw.CoHosts...))
	guests := cleanList(raw.Guests)

	// A name listed as host is not also a guest.
	fold := cases.Fold()
	hostSet := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		hostSet[fold.String(h)] = true
	}
	filtered := guests[:0]
	for _, g := range guests {
		if !hostSet[fold.String(g)] {
			filtered = append(filtered, g)
		}
	}

	return queue.MetadataResult{
		Summary:  summary,
		Keywords: keywords,
		Hosts:    hosts,
		Guests:   filtered,
	}, nil
}

func cleanList(values []string) []string {
	fold := cases.Fold()
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.Join(strings.Fields(value), " ")
		if value == "" {
			continue
		}
		key := fold.String(value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

// HealthCheck asks the extractor whether it is reachable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	name := string(queue.StageMetadata)
	if err := h.extractor.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
