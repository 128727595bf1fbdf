// Package config manages the gofixd daemon configuration using koanf/v2.
//
// This is the engine-level configuration (logging, admin endpoint, metrics,
// store backend). Per-session FIX settings live in the INI settings file
// handled by internal/settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gofixd configuration.
type Config struct {
	Admin    AdminConfig   `koanf:"admin"`
	Metrics  MetricsConfig `koanf:"metrics"`
	Log      LogConfig     `koanf:"log"`
	Store    StoreConfig   `koanf:"store"`
	Settings string        `koanf:"settings"`
	Reactor  bool          `koanf:"reactor"`
}

// AdminConfig holds the admin HTTP endpoint configuration.
type AdminConfig struct {
	// Enabled toggles the endpoint; the engine is correct without it.
	Enabled bool `koanf:"enabled"`
	// Addr is the HTTP listen address (e.g., ":9200").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint.
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	// Backend is "memory", "file", or "sql".
	Backend string `koanf:"backend"`
	// Path is the file-store directory (file backend).
	Path string `koanf:"path"`
	// DSN is the sqlite data source (sql backend).
	DSN string `koanf:"dsn"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQL    = "sql"
)

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":9200",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Settings: "sessions.cfg",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gofixd configuration.
// Variables are named GOFIX_<section>_<key>, e.g., GOFIX_ADMIN_ADDR.
const envPrefix = "GOFIX_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOFIX_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOFIX_ADMIN_ADDR -> admin.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.enabled": defaults.Admin.Enabled,
		"admin.addr":    defaults.Admin.Addr,
		"metrics.addr":  defaults.Metrics.Addr,
		"metrics.path":  defaults.Metrics.Path,
		"log.level":     defaults.Log.Level,
		"log.format":    defaults.Log.Format,
		"store.backend": defaults.Store.Backend,
		"store.path":    defaults.Store.Path,
		"store.dsn":     defaults.Store.DSN,
		"settings":      defaults.Settings,
		"reactor":       defaults.Reactor,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptySettingsPath indicates no session settings file is named.
	ErrEmptySettingsPath = errors.New("settings path must not be empty")

	// ErrInvalidStoreBackend indicates an unrecognized store backend.
	ErrInvalidStoreBackend = errors.New("store.backend must be memory, file, or sql")

	// ErrMissingStorePath indicates the file backend without a directory.
	ErrMissingStorePath = errors.New("store.path is required for the file backend")

	// ErrMissingStoreDSN indicates the sql backend without a DSN.
	ErrMissingStoreDSN = errors.New("store.dsn is required for the sql backend")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Settings == "" {
		return ErrEmptySettingsPath
	}
	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreFile:
		if cfg.Store.Path == "" {
			return ErrMissingStorePath
		}
	case StoreSQL:
		if cfg.Store.DSN == "" {
			return ErrMissingStoreDSN
		}
	default:
		return fmt.Errorf("%q: %w", cfg.Store.Backend, ErrInvalidStoreBackend)
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
