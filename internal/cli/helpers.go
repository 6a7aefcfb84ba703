package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/strideworks/solesync/internal/classify"
	"github.com/strideworks/solesync/internal/config"
	"github.com/strideworks/solesync/internal/queue"
)

// loadConfig loads the config file for offline subcommands. Unlike the
// daemon, these never create a missing config.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config not found at %s (run 'solesync init' first)", path)
		}
		return nil, err
	}
	return cfg, nil
}

// openQueue opens the persisted store and restores the queue from it.
// The caller owns the store and must Close it.
func openQueue(cfg *config.Config, logger *slog.Logger) (*queue.Queue, *queue.SQLiteStore, error) {
	store, err := queue.OpenSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.New(queue.Limits{
		MaxSize:             cfg.Queue.MaxSize,
		MaxRetryAttempts:    cfg.Queue.MaxRetryAttempts,
		SyncBatchSize:       cfg.Queue.SyncBatchSize,
		ImmediateThreshold:  cfg.Queue.PriorityThresholds.Immediate,
		BackgroundThreshold: cfg.Queue.PriorityThresholds.Background,
	}, store, logger)
	q.Restore()
	return q, store, nil
}

// loadRules resolves the priority rules file, falling back to defaults
// the same way the daemon does.
func loadRules(cfg *config.Config, logger *slog.Logger) *classify.Rules {
	rules := classify.DefaultRules()
	if cfg.Queue.RulesPath == "" {
		return rules
	}
	loaded, err := classify.LoadRules(cfg.Queue.RulesPath)
	if err != nil {
		// A rules file that simply does not exist is the normal case.
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("no priority rules file, using defaults", "path", cfg.Queue.RulesPath)
		} else {
			logger.Warn("priority rules unavailable, using defaults", "path", cfg.Queue.RulesPath, "error", err)
		}
		return rules
	}
	return loaded
}

// getLogger returns a logger for offline subcommands. Quiet by default so
// JSON output stays parseable.
func getLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}
