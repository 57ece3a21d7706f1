package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
generation:
  provider: anthropic
  temperature: 0.2
  retry:
    max_attempts: 3
    base_delay: 250ms
cache:
  ttl: 48h
  similarity_threshold: 0.9
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Generation.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model default should follow provider, got %q", cfg.Generation.Model)
	}
	if cfg.Generation.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("base_delay = %v", cfg.Generation.Retry.BaseDelay)
	}
	if cfg.Cache.TTL != 48*time.Hour {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
	if !cfg.Cache.EnabledOrDefault() {
		t.Error("cache should be enabled by default")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/units.db"
  state_dir: "./state"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "units.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "state"); cfg.Storage.StateDir != want {
		t.Errorf("state_dir = %q, want %q", cfg.Storage.StateDir, want)
	}
}

func TestLoad_failsFastOnUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
generation:
  provider: "carrier-pigeon"
`)
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate_outOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"concurrency zero", func(c *Config) { c.Generation.MaxConcurrency = -1 }},
		{"threshold above one", func(c *Config) { c.Cache.SimilarityThreshold = 1.5 }},
		{"retry attempts", func(c *Config) { c.Generation.Retry.MaxAttempts = 50 }},
		{"max delay below base", func(c *Config) { c.Generation.Retry.MaxDelay = time.Millisecond }},
		{"bad glob", func(c *Config) { c.Index.Exclude = []string{"[abc"} }},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestHolder_WithRestoresOnPanic(t *testing.T) {
	base := Default()
	h := NewHolder(base)
	tmp := base.Clone()
	tmp.Generation.MaxConcurrency = 1

	func() {
		defer func() { _ = recover() }()
		_ = h.With(tmp, func(c *Config) error {
			if h.Get() != tmp {
				t.Error("override should be active inside With")
			}
			panic("boom")
		})
	}()
	if h.Get() != base {
		t.Error("previous config should be restored after panic")
	}

	wantErr := errors.New("fail")
	if err := h.With(tmp, func(*Config) error { return wantErr }); err != wantErr {
		t.Errorf("With should return fn error, got %v", err)
	}
	if h.Get() != base {
		t.Error("previous config should be restored after error")
	}
}

func TestClone_isDeep(t *testing.T) {
	cfg := Default()
	c := cfg.Clone()
	c.Index.Exclude[0] = "changed"
	if cfg.Index.Exclude[0] == "changed" {
		t.Error("Clone should copy slices")
	}
}
