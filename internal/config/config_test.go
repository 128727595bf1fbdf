package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tradewire/gofix/internal/config"
)

// writeConfig drops YAML into a temp file and returns its path.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gofixd.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
store:
  backend: file
  path: /var/lib/gofix
settings: /etc/gofix/sessions.cfg
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	// Untouched keys inherit defaults.
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json default", cfg.Log.Format)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default", cfg.Metrics.Addr)
	}
	if !cfg.Admin.Enabled {
		t.Error("Admin.Enabled lost its default")
	}
	if cfg.Store.Backend != config.StoreFile || cfg.Store.Path != "/var/lib/gofix" {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GOFIX_LOG_LEVEL", "warn")
	t.Setenv("GOFIX_ADMIN_ADDR", ":9999")

	path := writeConfig(t, `
log:
  level: info
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env override lost: Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Admin.Addr != ":9999" {
		t.Errorf("env override lost: Admin.Addr = %q", cfg.Admin.Addr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"defaults are valid", func(*config.Config) {}, nil},
		{"empty settings", func(c *config.Config) { c.Settings = "" }, config.ErrEmptySettingsPath},
		{"bad backend", func(c *config.Config) { c.Store.Backend = "redis" }, config.ErrInvalidStoreBackend},
		{"file without path", func(c *config.Config) { c.Store.Backend = config.StoreFile }, config.ErrMissingStorePath},
		{"sql without dsn", func(c *config.Config) { c.Store.Backend = config.StoreSQL }, config.ErrMissingStoreDSN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
