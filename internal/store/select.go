package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/theirongolddev/chatstate/internal/config"
)

// Choice is the backend decision made once at process start. DBPath is the
// resolved database location whichever backend was picked.
type Choice struct {
	Kind   Kind
	Reason string
	DBPath string
}

// Decide picks a backend from configuration and environment:
//  1. database.force_durable or a truthy CHATSTATE_DURABLE forces durable.
//  2. Otherwise database.enabled decides.
//  3. An unset database.enabled logs a warning and selects memory.
//
// A CHATSTATE_DURABLE value that does not parse as a bool is warned about
// and ignored.
func Decide(cfg config.Config, getenv func(string) string, logger *slog.Logger) Choice {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	dbPath := cfg.Database.Path
	if p := getenv(config.EnvDBPath); p != "" {
		dbPath = p
	}
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}
	durable := Choice{Kind: KindDurable, DBPath: dbPath}

	if cfg.Database.ForceDurable {
		durable.Reason = "database.force_durable"
		return durable
	}

	if raw := strings.TrimSpace(getenv(config.EnvDurable)); raw != "" {
		on, err := strconv.ParseBool(raw)
		switch {
		case err != nil:
			logger.Warn("ignoring malformed durable override", "env", config.EnvDurable, "value", raw)
		case on:
			durable.Reason = config.EnvDurable
			return durable
		}
	}

	if cfg.Database.Enabled == nil {
		logger.Warn("database.enabled not configured, using in-memory conversation store")
		return Choice{Kind: KindMemory, Reason: "database.enabled unset", DBPath: dbPath}
	}
	if *cfg.Database.Enabled {
		durable.Reason = "database.enabled"
		return durable
	}
	return Choice{Kind: KindMemory, Reason: "database.enabled = false", DBPath: dbPath}
}

// OpenChoice constructs the backend named by c.
func OpenChoice(ctx context.Context, c Choice, logger *slog.Logger) (Backend, error) {
	switch c.Kind {
	case KindDurable:
		return OpenSQLite(ctx, c.DBPath, logger)
	case KindMemory:
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", c.Kind)
	}
}

// Open decides and constructs the process backend in one call, reading the
// environment through os.Getenv.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backend, Choice, error) {
	c := Decide(cfg, os.Getenv, logger)
	b, err := OpenChoice(ctx, c, logger)
	if err != nil {
		return nil, c, err
	}
	return b, c, nil
}
