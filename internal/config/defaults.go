package config

import "time"

// DefaultExclude lists path patterns never indexed unless the config overrides the list.
var DefaultExclude = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "__pycache__", ".venv", "venv",
	"dist", "build", ".idea", ".vscode", "*.min.js", "*.lock", "*.sum",
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shiori/data/db/units.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/shiori/data/indices/bleve"
	}
	if cfg.Storage.CacheDatabasePath == "" {
		cfg.Storage.CacheDatabasePath = "/usr/local/var/shiori/data/db/generation-cache.db"
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "/usr/local/var/shiori/data/state"
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = "/usr/local/var/shiori/wiki"
	}
	if cfg.Index.MaxFileBytes == 0 {
		cfg.Index.MaxFileBytes = 1 << 20
	}
	if cfg.Index.Exclude == nil {
		cfg.Index.Exclude = append([]string(nil), DefaultExclude...)
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 500
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/shiori/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = time.Hour
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaultModels[cfg.Generation.Provider]
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 2048
	}
	if cfg.Generation.MaxConcurrency == 0 {
		cfg.Generation.MaxConcurrency = 4
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 2 * time.Minute
	}
	if cfg.Generation.Retry.MaxAttempts == 0 {
		cfg.Generation.Retry.MaxAttempts = 4
	}
	if cfg.Generation.Retry.BaseDelay == 0 {
		cfg.Generation.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Generation.Retry.MaxDelay == 0 {
		cfg.Generation.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Cache.MaxCacheableTemperature == 0 {
		cfg.Cache.MaxCacheableTemperature = 0.5
	}
	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = 0.95
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 7 * 24 * time.Hour
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 5000
	}
	if cfg.Cache.EvictionBatch == 0 {
		cfg.Cache.EvictionBatch = 100
	}
	if cfg.Cache.TopK == 0 {
		cfg.Cache.TopK = 5
	}
	if cfg.Wiki.MaxUnitsPerPage == 0 {
		cfg.Wiki.MaxUnitsPerPage = 80
	}
	if cfg.Wiki.MaxUnitChars == 0 {
		cfg.Wiki.MaxUnitChars = 1200
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-2.0-flash",
	"fake":      "fake",
}
