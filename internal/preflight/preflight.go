package preflight

import (
	"context"
	"strings"

	"podindex/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes the local preflight checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
		CheckDirectoryAccess("Transcript directory", cfg.Paths.TranscriptDir),
	}
	for _, status := range CheckBinaries(ctx, Requirements(cfg)) {
		results = append(results, status.Result())
	}
	results = append(results, checkKey("LLM API key", cfg.LLM.APIKey, "metadata extraction"))
	if cfg.Workflow.IndexingEnabled {
		results = append(results, checkKey("Document store API key", cfg.DocumentStore.APIKey, "indexing"))
	}
	return results
}

// Failed returns the non-optional checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

func checkKey(name, value, feature string) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Name: name, Detail: "missing (required for " + feature + ")"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}
