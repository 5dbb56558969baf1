package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"podindex/internal/config"
	"podindex/internal/services/whisperx"
)

// Requirement names an external binary the pipeline shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	VersionArgs []string
}

// BinaryStatus reports whether a requirement was found and, when asked for,
// its reported version.
type BinaryStatus struct {
	Requirement
	Path      string
	Available bool
	Version   string
	Detail    string
}

// Result converts the status into a preflight result.
func (s BinaryStatus) Result() Result {
	r := Result{Name: s.Name, Passed: s.Available, Optional: s.Optional, Detail: s.Detail}
	if s.Available {
		r.Detail = s.Path
		if s.Version != "" {
			r.Detail += " (" + s.Version + ")"
		}
	}
	return r
}

// Requirements lists the binaries cfg needs.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "uvx",
			Command:     whisperx.UVXCommand,
			Description: "Runs WhisperX for transcription",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "nvidia-smi",
			Command:     "nvidia-smi",
			Description: "Reports the GPU used for CUDA transcription",
			Optional:    !cfg.Transcription.CUDAEnabled,
		},
	}
}

var lookPath = exec.LookPath

// CheckBinaries resolves each requirement on PATH and, for those with
// VersionArgs, records the first line of the version output.
func CheckBinaries(ctx context.Context, requirements []Requirement) []BinaryStatus {
	results := make([]BinaryStatus, 0, len(requirements))
	for _, req := range requirements {
		status := BinaryStatus{Requirement: req}
		cmd := strings.TrimSpace(req.Command)
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := lookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Path = path
		status.Available = true
		if len(req.VersionArgs) > 0 {
			status.Version = probeVersion(ctx, path, req.VersionArgs)
		}
		results = append(results, status)
	}
	return results
}

func probeVersion(ctx context.Context, path string, args []string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}
