package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"podindex/internal/config"
	"podindex/internal/daemon"
	"podindex/internal/daemonrun"
	"podindex/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// cliLogger keeps one-shot commands quiet unless --log-level asks otherwise.
func (c *commandContext) cliLogger() (*slog.Logger, error) {
	level := c.logLevel()
	if level == "" {
		level = "warn"
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
}

// withRuntime builds the runtime for one command and closes it afterwards.
func (c *commandContext) withRuntime(fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.cliLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	rt, err := daemonrun.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// withRemoteRuntime is withRuntime for commands that talk to the document
// store; it fails early when no credentials are configured.
func (c *commandContext) withRemoteRuntime(fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.DocumentStore.APIKey == "" {
		return errors.New("document_store.api_key is required (set GEMINI_API_KEY)")
	}
	return c.withRuntime(fn)
}

// withCacheWriter is withRemoteRuntime for commands that rewrite the
// resource cache file. It holds the daemon lock for the duration, so a
// running daemon never serves or re-persists entries the command removed.
func (c *commandContext) withCacheWriter(fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	unlock, err := daemon.Lock(cfg)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("daemon is running; stop it before changing the resource cache: %w", err)
	}
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	return c.withRemoteRuntime(fn)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
