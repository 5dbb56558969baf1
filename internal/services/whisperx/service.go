package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoSpeech is returned when WhisperX produced no transcript text.
var ErrNoSpeech = errors.New("whisperx produced an empty transcript")

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Service provides WhisperX transcription.
type Service struct {
	cfg    Config
	runner CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// WithCommandRunner replaces process execution, for tests.
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.runner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.runner != nil {
		return s.runner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 defaults torch.load to weights_only, which breaks pyannote checkpoints.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(string(output), 2000))
	}
	return nil
}

// Result is one transcription.
type Result struct {
	Text     string
	JSONPath string
	Segments []Segment
}

// Transcribe runs WhisperX on audioPath, writing its JSON output into
// workDir, and returns the joined segment text.
func (s *Service) Transcribe(ctx context.Context, audioPath, workDir string) (Result, error) {
	var result Result
	if audioPath == "" {
		return result, errors.New("transcribe: audio path required")
	}
	if workDir == "" {
		workDir = filepath.Dir(audioPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure work dir: %w", err)
	}

	if err := s.run(ctx, UVXCommand, s.buildArgs(audioPath, workDir)...); err != nil {
		return result, fmt.Errorf("whisperx: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	result.JSONPath = filepath.Join(workDir, base+".json")
	segments, err := LoadSegments(result.JSONPath)
	if err != nil {
		return result, fmt.Errorf("whisperx output: %w", err)
	}
	result.Segments = segments
	result.Text = JoinSegments(segments)
	if result.Text == "" {
		return result, ErrNoSpeech
	}
	return result, nil
}

func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 32)
	if s.cfg.CUDAEnabled {
		args = append(args, "--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--beam_size", BeamSize,
	)

	vad := s.cfg.VADMethod
	if vad == "" {
		vad = VADMethodSilero
	}
	args = append(args, "--vad_method", vad)
	if vad == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}
	if lang := strings.ToLower(strings.TrimSpace(s.cfg.Language)); len(lang) == 2 {
		args = append(args, "--language", lang)
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

// Segment is one transcribed span of WhisperX output.
type Segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

// LoadSegments reads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

// JoinSegments concatenates non-empty segment text with single spaces.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
