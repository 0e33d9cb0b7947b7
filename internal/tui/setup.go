package tui

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/chatstate/internal/config"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/tui/theme"
)

// SetupValues holds the answers collected by the setup wizard.
type SetupValues struct {
	Backend  string
	DBPath   string
	LogLevel string
	Theme    string
}

// SetupValuesFrom seeds wizard answers from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	backend := string(store.KindMemory)
	if cfg.Database.ForceDurable || (cfg.Database.Enabled != nil && *cfg.Database.Enabled) {
		backend = string(store.KindDurable)
	}
	return SetupValues{
		Backend:  backend,
		DBPath:   cfg.Database.Path,
		LogLevel: cfg.General.LogLevel,
		Theme:    cfg.General.Theme,
	}
}

// NewSetupForm builds the first-run wizard writing into vals.
func NewSetupForm(vals *SetupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, t := range theme.All {
		themeOpts = append(themeOpts, huh.NewOption(t.Name, t.Name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversation store").
				Description("Memory keeps chats for the life of the process. Durable writes them to SQLite.").
				Options(
					huh.NewOption("In-memory", string(store.KindMemory)),
					huh.NewOption("Durable (SQLite)", string(store.KindDurable)),
				).
				Value(&vals.Backend),
			huh.NewInput().
				Title("Database path").
				Description("Used by the durable backend.").
				Value(&vals.DBPath).
				Validate(validateDBPath),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&vals.LogLevel),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.Theme),
		),
	).WithTheme(huh.ThemeDracula())
}

func validateDBPath(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("path is required")
	}
	if s != ":memory:" && !filepath.IsAbs(s) {
		return errors.New("use an absolute path")
	}
	return nil
}

// ApplySetup writes wizard answers onto cfg.
func ApplySetup(cfg config.Config, vals SetupValues) config.Config {
	enabled := vals.Backend == string(store.KindDurable)
	cfg.Database.Enabled = &enabled
	if p := strings.TrimSpace(vals.DBPath); p != "" {
		cfg.Database.Path = p
	}
	if vals.LogLevel != "" {
		cfg.General.LogLevel = vals.LogLevel
	}
	if vals.Theme != "" {
		cfg.General.Theme = theme.ByName(vals.Theme).Name
	}
	return cfg
}
