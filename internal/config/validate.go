package config

import (
	"fmt"
	"path"
)

var (
	generationProviders = map[string]bool{"openai": true, "anthropic": true, "gemini": true, "fake": true}
	embeddingProviders  = map[string]bool{"mock": true, "onnx": true, "openai": true, "gemini": true}
)

// Validate checks provider names and numeric limits. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if !generationProviders[c.Generation.Provider] {
		return fmt.Errorf("%w: unknown generation provider %q", ErrInvalidConfig, c.Generation.Provider)
	}
	if !embeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	checks := []struct {
		ok   bool
		what string
	}{
		{c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be in 1..65535"},
		{c.Index.BatchSize > 0, "index.batch_size must be positive"},
		{c.Index.MaxFileBytes > 0, "index.max_file_bytes must be positive"},
		{c.Embedding.Dimensions > 0, "embedding.dimensions must be positive"},
		{c.Embedding.CacheSize >= 0, "embedding.cache_size must not be negative"},
		{c.Generation.MaxTokens > 0, "generation.max_tokens must be positive"},
		{c.Generation.Temperature >= 0 && c.Generation.Temperature <= 2, "generation.temperature must be in 0..2"},
		{c.Generation.MaxConcurrency >= 1 && c.Generation.MaxConcurrency <= 64, "generation.max_concurrency must be in 1..64"},
		{c.Generation.Retry.MaxAttempts >= 1 && c.Generation.Retry.MaxAttempts <= 10, "generation.retry.max_attempts must be in 1..10"},
		{c.Generation.Retry.BaseDelay > 0 && c.Generation.Retry.MaxDelay >= c.Generation.Retry.BaseDelay, "generation.retry delays must satisfy 0 < base_delay <= max_delay"},
		{c.Cache.MaxCacheableTemperature >= 0 && c.Cache.MaxCacheableTemperature <= 2, "cache.max_cacheable_temperature must be in 0..2"},
		{c.Cache.SimilarityThreshold > 0 && c.Cache.SimilarityThreshold <= 1, "cache.similarity_threshold must be in (0, 1]"},
		{c.Cache.TTL >= 0, "cache.ttl must not be negative"},
		{c.Cache.MaxEntries > 0, "cache.max_entries must be positive"},
		{c.Cache.EvictionBatch > 0, "cache.eviction_batch must be positive"},
		{c.Cache.TopK > 0, "cache.top_k must be positive"},
		{c.Wiki.MaxUnitsPerPage > 0, "wiki.max_units_per_page must be positive"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, chk.what)
		}
	}
	for _, pattern := range c.Index.Exclude {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: bad exclude pattern %q: %v", ErrInvalidConfig, pattern, err)
		}
	}
	return nil
}
