package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/xxh3"
)

// CachedEmbedder memoizes an Embedder in an expiring LRU keyed by the xxh3 digest of the text.
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbedder wraps next. A non-positive size or ttl returns a pass-through wrapper.
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration) *CachedEmbedder {
	c := &CachedEmbedder{next: next}
	if size > 0 && ttl > 0 {
		c.cache = expirable.NewLRU[string, []float32](size, nil, ttl)
	}
	return c
}

func cacheKey(text string) string {
	h := xxh3.HashString128(text)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Embed returns the cached embedding or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cache == nil {
		return c.next.Embed(ctx, text)
	}
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return cloneEmbedding(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneEmbedding(v))
	return v, nil
}

// EmbedBatch serves cached texts and sends the rest to the wrapped embedder in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil {
		return c.next.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(text)); ok {
			out[i] = cloneEmbedding(v)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	fresh, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range fresh {
		out[missingIdx[j]] = v
		c.cache.Add(cacheKey(missing[j]), cloneEmbedding(v))
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Close purges the cache and closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	if c.cache != nil {
		c.cache.Purge()
	}
	return c.next.Close()
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
