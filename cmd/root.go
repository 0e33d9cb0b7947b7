// Package cmd implements the chatstate CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/chatstate/internal/config"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/tui/theme"
)

var (
	flagConfig   string
	flagDBPath   string
	flagDurable  bool
	flagLogLevel string
	flagQuiet    bool
)

// Loaded once in PersistentPreRunE.
var (
	appCfg config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatstate",
	Short: "Conversation state store for LLM agent loops",
	Long: "Persist chat history, prompt-cache metadata, and per-turn cost records\n" +
		"in memory or in SQLite, and inspect them from the command line.",
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

// Execute is the main entry point called from main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Database path, overrides config and "+config.EnvDBPath)
	rootCmd.PersistentFlags().BoolVar(&flagDurable, "durable", false, "Force the durable SQLite backend")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
}

func loadRuntime(_ *cobra.Command, _ []string) error {
	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	cfg, cfgErr := config.LoadFile(path)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}
	if flagDurable {
		cfg.Database.ForceDurable = true
	}
	if flagLogLevel != "" {
		cfg.General.LogLevel = flagLogLevel
	}
	appCfg = cfg
	theme.SetActive(cfg.General.Theme)

	level, err := parseLevel(cfg.General.LogLevel)
	if err != nil {
		return err
	}
	if flagQuiet {
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfgErr != nil {
		logger.Warn("config unreadable, using defaults", "path", path, "err", cfgErr)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// decideBackend applies the process backend decision, letting --db win over
// config and environment.
func decideBackend() store.Choice {
	c := store.Decide(appCfg, os.Getenv, logger)
	if flagDBPath != "" {
		c.DBPath = flagDBPath
	}
	return c
}

// withBackend opens the process backend, runs fn, and closes it.
func withBackend(ctx context.Context, fn func(ctx context.Context, b store.Backend, c store.Choice) error) error {
	c := decideBackend()
	logger.Debug("backend selected", "kind", c.Kind, "reason", c.Reason, "path", c.DBPath)

	b, err := store.OpenChoice(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("closing conversation store", "err", err)
		}
	}()

	return fn(ctx, b, c)
}
