// Package gencache memoizes generation calls in two tiers: an exact match on the prompt pair and
// a nearest-neighbor match on the prompt embedding.
package gencache

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/hyperjump/shiori/pkg/utils"
)

// Tier names the lookup tier that produced a hit.
type Tier string

const (
	TierExact      Tier = "exact"
	TierSimilarity Tier = "similarity"
)

// Stats are the running counters of a Cache. Every Get increments exactly one of Hits, Misses
// or Skips.
type Stats struct {
	Hits           int64 `json:"hits"`
	ExactHits      int64 `json:"exactHits"`
	SimilarityHits int64 `json:"similarityHits"`
	Misses         int64 `json:"misses"`
	Skips          int64 `json:"skips"`
	Entries        int   `json:"entries"`
	Indexed        int   `json:"indexed"`
	Evicted        int64 `json:"evicted"`
}

// HitRecord is the in-memory hit bookkeeping for one entry.
type HitRecord struct {
	Count   int       `json:"count"`
	LastHit time.Time `json:"lastHit"`
}

// Cache is safe for concurrent use.
type Cache struct {
	store    Store
	embedder embedding.Embedder
	index    *vector.MemoryIndex
	cfg      config.CacheConfig
	logger   *zap.Logger
	now      func() time.Time

	hits, exactHits, simHits, misses, skips, evicted atomic.Int64

	mu     sync.Mutex
	hitLog map[string]HitRecord
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock replaces time.Now, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEmbedder enables the similarity tier.
func WithEmbedder(e embedding.Embedder) Option {
	return func(c *Cache) { c.embedder = e }
}

// Open returns a cache over store and loads the stored embeddings into the in-memory
// nearest-neighbor index. Without an embedder only the exact tier is used.
func Open(ctx context.Context, store Store, cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:  store,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		hitLog: map[string]HitRecord{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.TopK <= 0 {
		c.cfg.TopK = 5
	}
	if c.embedder == nil {
		return c, nil
	}
	idx, err := vector.NewMemoryIndex(c.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	c.index = idx
	entries, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	var vecs [][]float32
	for _, e := range entries {
		if len(e.Embedding) != idx.Dimensions() {
			continue
		}
		utils.NormalizeL2(e.Embedding)
		ids = append(ids, e.ID)
		vecs = append(vecs, e.Embedding)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, err
	}
	c.logger.Debug("Generation cache opened", zap.Int("entries", len(entries)), zap.Int("indexed", len(ids)))
	return c, nil
}

// Cacheable reports whether calls at temperature are eligible for caching.
func (c *Cache) Cacheable(temperature float64) bool {
	return temperature <= c.cfg.MaxCacheableTemperature
}

// Get looks up a response: the exact tier first, then the similarity tier. Store and embedding
// failures are logged and count as a miss.
func (c *Cache) Get(ctx context.Context, prompt, systemPrompt string, temperature float64, modelName string) (string, bool) {
	return c.lookup(ctx, prompt, systemPrompt, temperature, modelName, true)
}

// GetExact looks up a response in the exact tier only. Callers use it when the prompt describes
// changed inputs, so a near match would be stale.
func (c *Cache) GetExact(ctx context.Context, prompt, systemPrompt string, temperature float64, modelName string) (string, bool) {
	return c.lookup(ctx, prompt, systemPrompt, temperature, modelName, false)
}

func (c *Cache) lookup(ctx context.Context, prompt, systemPrompt string, temperature float64, modelName string, similarity bool) (string, bool) {
	if !c.Cacheable(temperature) {
		c.skips.Add(1)
		return "", false
	}
	now := c.now()

	hash := contenthash.Prompt(systemPrompt, prompt)
	entries, err := c.store.GetByExactHash(ctx, hash)
	if err != nil {
		c.logger.Warn("Cache exact lookup failed", zap.Error(err))
	}
	for _, e := range entries {
		if e.ModelName == modelName && !e.Expired(now) {
			c.hit(e.ID, TierExact, now)
			return e.Response, true
		}
	}

	if similarity {
		if e, ok := c.similar(ctx, prompt, modelName, now); ok {
			c.hit(e.ID, TierSimilarity, now)
			return e.Response, true
		}
	}
	c.misses.Add(1)
	return "", false
}

// similar accepts only the closest indexed entry. Index entries whose row is gone are dropped and
// the next result takes their place; any other rejection is a miss.
func (c *Cache) similar(ctx context.Context, prompt, modelName string, now time.Time) (models.CacheEntry, bool) {
	if c.index == nil || c.index.Size() == 0 {
		return models.CacheEntry{}, false
	}
	vec, err := c.embed(ctx, prompt)
	if err != nil {
		c.logger.Warn("Cache embedding failed", zap.Error(err))
		return models.CacheEntry{}, false
	}
	results, err := c.index.Search(ctx, vec, c.cfg.TopK)
	if err != nil {
		c.logger.Warn("Cache similarity search failed", zap.Error(err))
		return models.CacheEntry{}, false
	}
	for _, r := range results {
		if r.Score < c.cfg.SimilarityThreshold {
			return models.CacheEntry{}, false
		}
		e, ok, err := c.store.Get(ctx, r.ID)
		if err != nil {
			c.logger.Warn("Cache entry lookup failed", zap.String("id", r.ID), zap.Error(err))
			return models.CacheEntry{}, false
		}
		if !ok {
			_ = c.index.Remove(ctx, []string{r.ID})
			continue
		}
		if e.ModelName != modelName || e.Expired(now) {
			return models.CacheEntry{}, false
		}
		return e, true
	}
	return models.CacheEntry{}, false
}

// embed returns a unit-length embedding so that index scores are cosine similarities.
func (c *Cache) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	utils.NormalizeL2(out)
	return out, nil
}

func (c *Cache) hit(id string, tier Tier, now time.Time) {
	c.hits.Add(1)
	if tier == TierExact {
		c.exactHits.Add(1)
	} else {
		c.simHits.Add(1)
	}
	c.mu.Lock()
	rec := c.hitLog[id]
	rec.Count++
	rec.LastHit = now
	c.hitLog[id] = rec
	c.mu.Unlock()
}

// Set stores a response. Calls above the cacheable temperature are ignored. A non-positive ttl
// uses the configured TTL. An embedding failure stores the entry for exact matches only.
func (c *Cache) Set(ctx context.Context, prompt, response, systemPrompt string, temperature float64, modelName string, ttl time.Duration) {
	if !c.Cacheable(temperature) {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	entry := models.CacheEntry{
		ID:           uuid.NewString(),
		ExactHash:    contenthash.Prompt(systemPrompt, prompt),
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		Response:     response,
		Temperature:  temperature,
		ModelName:    modelName,
		CreatedAt:    c.now(),
		TTLSeconds:   ttlSeconds(ttl),
	}
	if c.index != nil {
		vec, err := c.embed(ctx, prompt)
		if err != nil {
			c.logger.Warn("Cache embedding failed, storing exact entry only", zap.Error(err))
		} else {
			entry.Embedding = vec
		}
	}
	if err := c.store.Insert(ctx, entry); err != nil {
		c.logger.Warn("Cache insert failed", zap.Error(err))
		return
	}
	if entry.Embedding != nil {
		if err := c.index.Add(ctx, []string{entry.ID}, [][]float32{entry.Embedding}); err != nil {
			c.logger.Warn("Cache index add failed", zap.Error(err))
		}
	}

	n, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Warn("Cache count failed", zap.Error(err))
		return
	}
	if n > c.cfg.MaxEntries {
		if _, err := c.Evict(ctx); err != nil {
			c.logger.Warn("Cache eviction failed", zap.Error(err))
		}
	}
}

// ttlSeconds rounds up so that a sub-second TTL still yields a valid entry.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(math.Ceil(ttl.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Evict removes up to the configured batch of expired entries and returns how many were removed.
// Unexpired entries are never evicted, so the store may stay above MaxEntries.
func (c *Cache) Evict(ctx context.Context) (int, error) {
	ids, err := c.store.Expired(ctx, c.now(), c.cfg.EvictionBatch)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	n, err := c.store.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	if c.index != nil {
		_ = c.index.Remove(ctx, ids)
	}
	c.mu.Lock()
	for _, id := range ids {
		delete(c.hitLog, id)
	}
	c.mu.Unlock()
	c.evicted.Add(int64(n))
	c.logger.Debug("Evicted expired cache entries", zap.Int("removed", n))
	return n, nil
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	if c.index != nil {
		c.index.Reset()
	}
	c.mu.Lock()
	c.hitLog = map[string]HitRecord{}
	c.mu.Unlock()
	return nil
}

// Stats returns the counters and the current entry count. A failing store reports -1 entries.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:           c.hits.Load(),
		ExactHits:      c.exactHits.Load(),
		SimilarityHits: c.simHits.Load(),
		Misses:         c.misses.Load(),
		Skips:          c.skips.Load(),
		Evicted:        c.evicted.Load(),
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		n = -1
	}
	s.Entries = n
	if c.index != nil {
		s.Indexed = c.index.Size()
	}
	return s
}

// HitsFor returns the hit bookkeeping of one entry.
func (c *Cache) HitsFor(id string) (HitRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.hitLog[id]
	return rec, ok
}

// TopHits returns up to n entry IDs ordered by descending hit count.
func (c *Cache) TopHits(n int) []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.hitLog))
	counts := make(map[string]int, len(c.hitLog))
	for id, rec := range c.hitLog {
		ids = append(ids, id)
		counts[id] = rec.Count
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}
