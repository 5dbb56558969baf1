package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"podindex/internal/config"
	"podindex/internal/resourcecache"
	"podindex/internal/services/filesearch"
	"podindex/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt.
func CheckLLM(ctx context.Context, cfg config.LLM) Result {
	const name = "LLM API"
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Referer:        cfg.Referer,
		Title:          cfg.Title,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable (" + cfg.Model + ")"}
}

// CheckDocumentStore resolves the configured store, creating it when absent.
func CheckDocumentStore(ctx context.Context, cfg config.DocumentStore) Result {
	const name = "Document store"
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := filesearch.New(filesearch.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	storeID, err := client.CreateOrGetStore(checkCtx, cfg.StoreName)
	if err != nil {
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	return Result{Name: name, Passed: true, Detail: storeID}
}

// CheckResourceCache reports the size and freshness of the local cache.
// A stale cache is not a failure; it is rebuilt before indexing.
func CheckResourceCache(cfg *config.Config) Result {
	const name = "Resource cache"
	cache := resourcecache.New(resourcecache.Options{
		Path:       cfg.Cache.Path,
		StaleAfter: cfg.CacheStaleAfter(),
	})
	last := cache.LastSync()
	if last.IsZero() {
		return Result{Name: name, Passed: true, Optional: true, Detail: "never synced (rebuilt on next indexing pass)"}
	}
	detail := fmt.Sprintf("%d entries, synced %s", cache.Len(), humanize.Time(last))
	if cache.IsStale() {
		return Result{Name: name, Optional: true, Detail: detail + " (stale)"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeRemoteError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	var statusErr *filesearch.StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == 401 || statusErr.StatusCode == 403) {
		return "auth failed (invalid api key)"
	}
	return err.Error()
}
