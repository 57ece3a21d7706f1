// Package config provides configuration loading and structs for shiori.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for unknown providers and out-of-range limits.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	Wiki       WikiConfig       `yaml:"wiki"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the unit store, keyword index, cache database and state files.
type StorageConfig struct {
	DatabasePath      string `yaml:"database_path"`
	BleveIndexPath    string `yaml:"bleve_index_path"`
	CacheDatabasePath string `yaml:"cache_database_path"`
	// StateDir holds the per-repository index and generation status files.
	StateDir  string `yaml:"state_dir"`
	OutputDir string `yaml:"output_dir"`
}

// IndexConfig controls which files are indexed and how units are committed.
type IndexConfig struct {
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	Exclude      []string `yaml:"exclude"`
	// Languages is the allow-list of detected languages. Empty allows every detected language.
	Languages []string `yaml:"languages"`
	BatchSize int      `yaml:"batch_size"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// GenerationConfig selects the text generation provider and its call limits.
type GenerationConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig holds the exponential backoff policy for provider calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig holds generation cache settings.
type CacheConfig struct {
	Enabled                 *bool         `yaml:"enabled"`
	MaxCacheableTemperature float64       `yaml:"max_cacheable_temperature"`
	SimilarityThreshold     float64       `yaml:"similarity_threshold"`
	TTL                     time.Duration `yaml:"ttl"`
	MaxEntries              int           `yaml:"max_entries"`
	EvictionBatch           int           `yaml:"eviction_batch"`
	TopK                    int           `yaml:"top_k"`
}

// EnabledOrDefault returns whether the cache is enabled; defaults to true when unset.
func (c *CacheConfig) EnabledOrDefault() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return true
}

// WikiConfig controls page planning and prompt size.
type WikiConfig struct {
	Overview        *bool `yaml:"overview"`
	MaxUnitsPerPage int   `yaml:"max_units_per_page"`
	MaxUnitChars    int   `yaml:"max_unit_chars"`
}

// OverviewOrDefault returns whether an overview page is planned; defaults to true when unset.
func (w *WikiConfig) OverviewOrDefault() bool {
	if w.Overview != nil {
		return *w.Overview
	}
	return true
}

// WatchConfig holds file watch settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, applies defaults, expands paths and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.CacheDatabasePath = expandPath(cfg.Storage.CacheDatabasePath, configDir)
	cfg.Storage.StateDir = expandPath(cfg.Storage.StateDir, configDir)
	cfg.Storage.OutputDir = expandPath(cfg.Storage.OutputDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Clone returns a deep copy of cfg, safe to modify for scoped overrides.
func (c *Config) Clone() *Config {
	out := *c
	out.Index.Exclude = append([]string(nil), c.Index.Exclude...)
	out.Index.Languages = append([]string(nil), c.Index.Languages...)
	if c.Cache.Enabled != nil {
		v := *c.Cache.Enabled
		out.Cache.Enabled = &v
	}
	if c.Wiki.Overview != nil {
		v := *c.Wiki.Overview
		out.Wiki.Overview = &v
	}
	return &out
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
