// Package config loads and saves chatstate configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultForceDurable is the shipped value of database.force_durable.
// Durable mode is opt-in: set database.enabled or CHATSTATE_DURABLE to turn it on.
const DefaultForceDurable = false

// Environment variables read once at startup.
const (
	EnvDurable = "CHATSTATE_DURABLE"
	EnvDBPath  = "CHATSTATE_DB_PATH"
)

// Config holds all chatstate configuration.
type Config struct {
	General  GeneralConfig    `toml:"general" yaml:"general"`
	Database DatabaseConfig   `toml:"database" yaml:"database"`
	Server   ServerConfig     `toml:"server" yaml:"server"`
	Pricing  PricingOverrides `toml:"pricing" yaml:"pricing"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	ProjectRoot string `toml:"project_root,omitempty" yaml:"project_root,omitempty"`
	Theme       string `toml:"theme" yaml:"theme"`
}

// DatabaseConfig controls the durable conversation store.
type DatabaseConfig struct {
	// Enabled selects the durable backend. Nil means the file did not say,
	// which falls back to the in-memory backend with a warning.
	Enabled      *bool  `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path         string `toml:"path,omitempty" yaml:"path,omitempty"`
	ForceDurable bool   `toml:"force_durable" yaml:"force_durable"`
}

// ServerConfig holds state-service settings.
type ServerConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	EventsBuffer int    `toml:"events_buffer" yaml:"events_buffer"`
}

// PricingOverrides allows user-defined pricing for specific models.
type PricingOverrides struct {
	Overrides map[string]ModelPricingOverride `toml:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPerMTok        *float64 `toml:"input_per_mtok,omitempty" yaml:"input_per_mtok,omitempty"`
	OutputPerMTok       *float64 `toml:"output_per_mtok,omitempty" yaml:"output_per_mtok,omitempty"`
	CacheWrite5mPerMTok *float64 `toml:"cache_write_5m_per_mtok,omitempty" yaml:"cache_write_5m_per_mtok,omitempty"`
	CacheWrite1hPerMTok *float64 `toml:"cache_write_1h_per_mtok,omitempty" yaml:"cache_write_1h_per_mtok,omitempty"`
	CacheReadPerMTok    *float64 `toml:"cache_read_per_mtok,omitempty" yaml:"cache_read_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			LogLevel: "info",
			Theme:    "flexoki-dark",
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath(),
			ForceDurable: DefaultForceDurable,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8788",
			EventsBuffer: 200,
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatstate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chatstate")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DefaultDBPath returns the default database location under the XDG data dir.
func DefaultDBPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatstate", "chats.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chatstate", "chats.db")
}

// Load reads the default config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path. TOML is the native format; files ending
// in .yaml or .yml are decoded as YAML. A missing file yields defaults.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
		return cfg, nil
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveFile(Path(), cfg)
}

// SaveFile writes the config to path, as YAML for .yaml/.yml paths and TOML
// otherwise.
func SaveFile(path string, cfg Config) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // config path is chosen by the local user
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing config file: %w", cerr)
		}
	}()

	return encodeConfig(f, path, cfg)
}

func encodeConfig(w io.Writer, path string, cfg Config) error {
	if !isYAML(path) {
		return toml.NewEncoder(w).Encode(cfg)
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(cfg); err != nil {
		_ = enc.Close()
		return err
	}
	// Close flushes the document.
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing yaml config: %w", err)
	}
	return nil
}

// GetDBPath returns the database path from env var or config, in that order.
func GetDBPath(cfg Config) string {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	if cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	return DefaultDBPath()
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}
