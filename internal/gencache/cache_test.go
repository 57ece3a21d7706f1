package gencache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/llm"
	"github.com/hyperjump/shiori/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		MaxCacheableTemperature: 0.5,
		SimilarityThreshold:     0.9,
		TTL:                     time.Hour,
		MaxEntries:              100,
		EvictionBatch:           10,
		TopK:                    5,
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCache(t *testing.T, cfg config.CacheConfig, clock *fakeClock) *Cache {
	t.Helper()
	c, err := Open(context.Background(), newTestStore(t), cfg,
		WithEmbedder(embedding.NewMockEmbedder(256)),
		WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

const longPrompt = "document the storage package covering insert delete count query close open schema migration batching"

func TestCache_roundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})

	if _, ok := c.Get(ctx, "p", "sys", 0.2, "m"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set(ctx, "p", "response", "sys", 0.2, "m", 0)
	before := c.Stats(ctx)
	got, ok := c.Get(ctx, "p", "sys", 0.2, "m")
	if !ok || got != "response" {
		t.Fatalf("Get = %q, %v; want response, true", got, ok)
	}
	after := c.Stats(ctx)
	if after.Hits != before.Hits+1 || after.ExactHits != before.ExactHits+1 {
		t.Errorf("hits %d -> %d, want +1 exact hit", before.Hits, after.Hits)
	}
	if after.Misses != 1 || after.Entries != 1 {
		t.Errorf("stats = %+v", after)
	}
}

func TestCache_systemPromptIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, newTestStore(t), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, "p", "r", "sys-a", 0, "m", 0)
	if _, ok := c.Get(ctx, "p", "sys-b", 0, "m"); ok {
		t.Error("different system prompt should miss without a similarity tier")
	}
}

func TestCache_temperatureGate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})

	for i := 0; i < 3; i++ {
		c.Set(ctx, "p", "r", "", 0.9, "m", 0)
		if _, ok := c.Get(ctx, "p", "", 0.9, "m"); ok {
			t.Fatal("hot call should never hit")
		}
	}
	s := c.Stats(ctx)
	if s.Skips != 3 || s.Entries != 0 || s.Hits != 0 || s.Misses != 0 {
		t.Errorf("stats = %+v, want 3 skips and nothing stored", s)
	}
	c.Set(ctx, "p", "r", "", 0.5, "m", 0)
	if _, ok := c.Get(ctx, "p", "", 0.5, "m"); !ok {
		t.Error("temperature equal to the ceiling should be cacheable")
	}
}

func TestCache_expiryWithoutEviction(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, testConfig(), clock)

	c.Set(ctx, longPrompt, "r", "", 0, "m", time.Second)
	if _, ok := c.Get(ctx, longPrompt, "", 0, "m"); !ok {
		t.Fatal("fresh entry should hit")
	}
	clock.Advance(1500 * time.Millisecond)
	if _, ok := c.Get(ctx, longPrompt, "", 0, "m"); ok {
		t.Fatal("expired entry must not hit on either tier")
	}
	if s := c.Stats(ctx); s.Entries != 1 {
		t.Errorf("entries = %d, want expired entry still stored", s.Entries)
	}
}

func TestCache_similarityTier(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})

	c.Set(ctx, longPrompt, "cached", "", 0, "m", 0)
	got, ok := c.Get(ctx, longPrompt+" please", "", 0, "m")
	if !ok || got != "cached" {
		t.Fatalf("near-duplicate prompt: got %q, %v", got, ok)
	}
	if s := c.Stats(ctx); s.SimilarityHits != 1 {
		t.Errorf("similarity hits = %d, want 1", s.SimilarityHits)
	}
	if _, ok := c.Get(ctx, "write a poem about the ocean at night", "", 0, "m"); ok {
		t.Error("unrelated prompt should miss")
	}
	if _, ok := c.Get(ctx, longPrompt+" please", "", 0, "other-model"); ok {
		t.Error("entry from another model must never be a similarity hit")
	}
}

func TestCache_exactTierRequiresModel(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	c.Set(ctx, "p", "from-a", "", 0, "model-a", 0)
	if _, ok := c.Get(ctx, "p", "", 0, "model-b"); ok {
		t.Error("exact hit across models")
	}
	c.Set(ctx, "p", "from-b", "", 0, "model-b", 0)
	if got, _ := c.Get(ctx, "p", "", 0, "model-b"); got != "from-b" {
		t.Errorf("got %q, want from-b", got)
	}
}

func TestCache_evictsExpiredInBatches(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := testConfig()
	cfg.MaxEntries = 2
	cfg.EvictionBatch = 1
	c := newTestCache(t, cfg, clock)

	for _, p := range []string{"a", "b", "c"} {
		c.Set(ctx, p, "r", "", 0, "m", time.Second)
	}
	// Nothing expired yet, so the store stays above the ceiling.
	if s := c.Stats(ctx); s.Entries != 3 {
		t.Fatalf("entries = %d, want 3", s.Entries)
	}
	clock.Advance(2 * time.Second)
	c.Set(ctx, "d", "r", "", 0, "m", time.Hour)
	s := c.Stats(ctx)
	if s.Entries != 3 || s.Evicted != 1 {
		t.Fatalf("entries=%d evicted=%d, want one expired entry removed", s.Entries, s.Evicted)
	}
	n, err := c.Evict(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Evict = %d, %v", n, err)
	}
	if _, ok := c.Get(ctx, "d", "", 0, "m"); !ok {
		t.Error("unexpired entry must survive eviction")
	}
}

func TestCache_reopenRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	emb := embedding.NewMockEmbedder(128)
	c, err := Open(ctx, store, testConfig(), WithEmbedder(emb))
	if err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, longPrompt, "r", "", 0, "m", 0)

	reopened, err := Open(ctx, store, testConfig(), WithEmbedder(emb))
	if err != nil {
		t.Fatal(err)
	}
	if s := reopened.Stats(ctx); s.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", s.Indexed)
	}
	if _, ok := reopened.Get(ctx, longPrompt+" now", "", 0, "m"); !ok {
		t.Error("similarity tier should work after reopen")
	}
}

func TestCache_clearAndHitLog(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	c.Set(ctx, "p", "r", "", 0, "m", 0)
	c.Get(ctx, "p", "", 0, "m")
	c.Get(ctx, "p", "", 0, "m")

	top := c.TopHits(1)
	if len(top) != 1 {
		t.Fatalf("TopHits = %v", top)
	}
	if rec, ok := c.HitsFor(top[0]); !ok || rec.Count != 2 {
		t.Errorf("hit record = %+v, %v", rec, ok)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if s := c.Stats(ctx); s.Entries != 0 || s.Indexed != 0 {
		t.Errorf("after clear: %+v", s)
	}
	if len(c.TopHits(0)) != 0 {
		t.Error("hit log should be cleared")
	}
}

type brokenStore struct{ Store }

func (brokenStore) GetByExactHash(context.Context, string) ([]models.CacheEntry, error) {
	return nil, errors.New("disk gone")
}
func (brokenStore) Insert(context.Context, models.CacheEntry) error { return errors.New("disk gone") }
func (brokenStore) Count(context.Context) (int, error)              { return 0, errors.New("disk gone") }

func TestCache_storeFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c, err := Open(ctx, brokenStore{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, "p", "r", "", 0, "m", 0)
	if _, ok := c.Get(ctx, "p", "", 0, "m"); ok {
		t.Fatal("broken store cannot hit")
	}
	if s := c.Stats(ctx); s.Misses != 1 || s.Entries != -1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	fake := llm.NewFakeGenerator("m")
	g := llm.Wrap(fake, Middleware(c))

	req := llm.Request{Prompt: "explain", SystemPrompt: "sys", Temperature: 0.1}
	first, err := g.Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || fake.Calls() != 1 {
		t.Errorf("calls = %d, want second call served from cache", fake.Calls())
	}

	hot := llm.Request{Prompt: "explain", SystemPrompt: "sys", Temperature: 1.0}
	g.Generate(ctx, hot)
	g.Generate(ctx, hot)
	if fake.Calls() != 3 {
		t.Errorf("calls = %d, want hot requests to bypass the cache", fake.Calls())
	}

	if Middleware(nil)(fake) != llm.Generator(fake) {
		t.Error("nil cache should not wrap")
	}
}

func TestMiddleware_failureNotCached(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	fake := llm.NewFakeGenerator("m")
	fake.Respond = func(n int, _ llm.Request) (string, error) {
		if n == 1 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}
	g := llm.Wrap(fake, Middleware(c))
	if _, err := g.Generate(ctx, llm.Request{Prompt: "x"}); err == nil {
		t.Fatal("want error")
	}
	if got, err := g.Generate(ctx, llm.Request{Prompt: "x"}); err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if s := c.Stats(ctx); s.Entries != 1 {
		t.Errorf("entries = %d, want only the success cached", s.Entries)
	}
}

func TestCache_similarityUsesClosestEntryOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})

	c.Set(ctx, longPrompt, "from-model-x", "", 0, "model-x", 0)
	c.Set(ctx, longPrompt+" please", "from-model-y", "", 0, "model-y", 0)
	if got, ok := c.Get(ctx, longPrompt, "", 0, "model-y"); ok {
		t.Errorf("closest entry belongs to another model, got hit %q", got)
	}

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c = newTestCache(t, testConfig(), clock)
	c.Set(ctx, longPrompt, "expired", "", 0, "m", time.Second)
	clock.Advance(time.Minute)
	c.Set(ctx, longPrompt+" please", "fresh", "", 0, "m", 0)
	if got, ok := c.Get(ctx, longPrompt+" now", "", 0, "m"); ok && got != "fresh" {
		t.Errorf("expired closest entry served: %q", got)
	}
	if got, ok := c.Get(ctx, longPrompt, "", 0, "m"); ok {
		t.Errorf("closest entry is expired, got hit %q", got)
	}
}

// fixedEmbedder returns preset vectors that are not unit length.
type fixedEmbedder map[string][]float32

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := f[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return append([]float32(nil), v...), nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fixedEmbedder) Dimensions() int { return 2 }
func (fixedEmbedder) Close() error    { return nil }

func TestCache_similarityIsCosine(t *testing.T) {
	ctx := context.Background()
	emb := fixedEmbedder{
		"billing":  {3, 0.5},
		"shipping": {0.6, 3},
		"invoices": {6, 1},
	}
	c, err := Open(ctx, newTestStore(t), testConfig(), WithEmbedder(emb))
	if err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, "billing", "billing page", "", 0, "m", 0)

	if got, ok := c.Get(ctx, "shipping", "", 0, "m"); ok {
		t.Errorf("unrelated prompt served %q", got)
	}
	if got, ok := c.Get(ctx, "invoices", "", 0, "m"); !ok || got != "billing page" {
		t.Errorf("same direction, larger norm: got %q, %v", got, ok)
	}
}

func TestCache_getExactSkipsSimilarity(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	c.Set(ctx, longPrompt, "cached", "", 0, "m", 0)

	if _, ok := c.GetExact(ctx, longPrompt+" please", "", 0, "m"); ok {
		t.Error("GetExact served a near match")
	}
	if got, ok := c.GetExact(ctx, longPrompt, "", 0, "m"); !ok || got != "cached" {
		t.Errorf("GetExact exact prompt: got %q, %v", got, ok)
	}
	if s := c.Stats(ctx); s.SimilarityHits != 0 || s.ExactHits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMiddleware_exactOnlyRequest(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testConfig(), &fakeClock{t: time.Unix(1_700_000_000, 0)})
	fake := llm.NewFakeGenerator("m")
	g := llm.Wrap(fake, Middleware(c))

	if _, err := g.Generate(ctx, llm.Request{Prompt: longPrompt}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(ctx, llm.Request{Prompt: longPrompt + " please"}); err != nil {
		t.Fatal(err)
	}
	if fake.Calls() != 1 {
		t.Fatalf("calls = %d, near match should be served from cache", fake.Calls())
	}
	if _, err := g.Generate(ctx, llm.Request{Prompt: longPrompt + " again", ExactOnly: true}); err != nil {
		t.Fatal(err)
	}
	if fake.Calls() != 2 {
		t.Errorf("calls = %d, exact-only request must reach the provider", fake.Calls())
	}
	if _, err := g.Generate(ctx, llm.Request{Prompt: longPrompt, ExactOnly: true}); err != nil {
		t.Fatal(err)
	}
	if fake.Calls() != 2 {
		t.Errorf("calls = %d, exact-only request should still use the exact tier", fake.Calls())
	}
}
