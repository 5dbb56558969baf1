// Package transcription implements the transcript stage on top of WhisperX.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"podindex/internal/config"
	"podindex/internal/fileutil"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/services/whisperx"
	"podindex/internal/stage"
	"podindex/internal/textutil"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, workDir string) (whisperx.Result, error)
	Model() string
}

// Handler runs the transcript stage.
type Handler struct {
	transcriptDir string
	transcriber   Transcriber
	logger        *slog.Logger
	lookPath      func(string) (string, error)
}

var _ stage.Handler = (*Handler)(nil)

// NewHandler builds a transcript handler. A nil transcriber uses WhisperX
// configured from cfg.
func NewHandler(cfg *config.Config, transcriber Transcriber, logger *slog.Logger) *Handler {
	if transcriber == nil {
		transcriber = whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.Model,
			CUDAEnabled: cfg.Transcription.CUDAEnabled,
			VADMethod:   cfg.Transcription.VADMethod,
			HFToken:     cfg.Transcription.HFToken,
			Language:    cfg.Transcription.Language,
		})
	}
	return &Handler{
		transcriptDir: cfg.Paths.TranscriptDir,
		transcriber:   transcriber,
		logger:        logging.NewComponentLogger(logger, "transcription"),
		lookPath:      exec.LookPath,
	}
}

// Stage reports the stage this handler serves.
func (h *Handler) Stage() queue.Stage { return queue.StageTranscript }

// Execute transcribes the downloaded audio. A transcript file left by an
// earlier attempt is reused instead of transcribing again.
func (h *Handler) Execute(ctx context.Context, episode *queue.Episode) (queue.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	audio := strings.TrimSpace(episode.LocalFilePath)
	if audio == "" || !fileutil.NonEmpty(audio) {
		return nil, stage.Permanent(queue.StageTranscript, "open audio", "audio file missing: "+audio, nil)
	}

	target := h.TranscriptPath(episode)
	if fileutil.NonEmpty(target) {
		data, err := os.ReadFile(target)
		if err == nil && strings.TrimSpace(string(data)) != "" {
			logger.Info("reusing existing transcript", logging.String("path", target))
			return queue.TranscriptResult{Text: string(data), Path: target}, nil
		}
	}

	workDir, err := os.MkdirTemp(filepath.Dir(audio), ".whisperx-")
	if err != nil {
		return nil, stage.Transient(queue.StageTranscript, "prepare work dir", filepath.Dir(audio), err)
	}
	defer os.RemoveAll(workDir)

	started := time.Now()
	result, err := h.transcriber.Transcribe(ctx, audio, workDir)
	switch {
	case errors.Is(err, whisperx.ErrNoSpeech):
		return nil, stage.Validation(queue.StageTranscript, "transcribe", "transcript is empty", err)
	case err != nil:
		return nil, stage.Transient(queue.StageTranscript, "transcribe", "whisperx failed", err)
	}

	if err := fileutil.WriteFileAtomic(target, []byte(result.Text), 0o644); err != nil {
		return nil, stage.Transient(queue.StageTranscript, "write transcript", target, err)
	}

	logger.Info("transcription complete",
		logging.String("path", target),
		logging.String("model", h.transcriber.Model()),
		logging.Int("characters", len(result.Text)),
		logging.Duration("elapsed", time.Since(started).Round(time.Second)),
	)
	return queue.TranscriptResult{Text: result.Text, Path: target}, nil
}

// TranscriptPath is <transcript_dir>/<podcast>/<audio base>_transcription.txt.
func (h *Handler) TranscriptPath(episode *queue.Episode) string {
	podcastDir := textutil.SanitizeFileName(episode.PodcastTitle, fmt.Sprintf("podcast-%d", episode.PodcastID))
	base := filepath.Base(episode.LocalFilePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(h.transcriptDir, podcastDir, base+"_transcription.txt")
}

// HealthCheck verifies uvx is installed.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	name := string(queue.StageTranscript)
	if _, err := h.lookPath(whisperx.UVXCommand); err != nil {
		return stage.Unhealthy(name, "uvx not found in PATH")
	}
	return stage.Healthy(name)
}
