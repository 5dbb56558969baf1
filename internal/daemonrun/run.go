package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"podindex/internal/config"
	"podindex/internal/logging"
	"podindex/internal/preflight"
)

// PIDFileName is written under paths.log_dir while the daemon runs.
const PIDFileName = "podindex.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// NewLogger builds the daemon logger from cfg, honoring a level override.
func NewLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		copied := *cfg
		copied.Logging.Level = level
		cfg = &copied
	}
	return logging.NewFromConfig(cfg)
}

// Run starts the daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := NewLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.LogDirTarget(cfg.Paths.LogDir))
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(cfg, logger)
	if err != nil {
		logger.Error("build runtime", logging.Error(err))
		return err
	}
	d, err := rt.Daemon()
	if err != nil {
		rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `podindex status` to see which check failed"))
		return err
	}

	<-signalCtx.Done()
	logger.Info("podindex daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("document_store_key_present", strings.TrimSpace(cfg.DocumentStore.APIKey) != ""),
		logging.Bool("indexing_enabled", cfg.Workflow.IndexingEnabled),
		logging.String("whisperx_model", cfg.Transcription.Model),
		logging.Bool("whisperx_cuda", cfg.Transcription.CUDAEnabled),
		logging.String("whisperx_vad_method", cfg.Transcription.VADMethod),
	}
	for _, status := range preflight.CheckBinaries(ctx, preflight.Requirements(cfg)) {
		attrs = append(attrs, logging.Bool(status.Name+"_available", status.Available))
		if status.Version != "" {
			attrs = append(attrs, logging.String(status.Name+"_version", status.Version))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
