package gencache

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/models"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Unix(1_700_000_000, 0).UTC()

	entries := []models.CacheEntry{
		{ID: "old", ExactHash: "h1", Prompt: "p", Response: "r1", ModelName: "m", CreatedAt: base, TTLSeconds: 10, Embedding: []float32{1, 0}},
		{ID: "new", ExactHash: "h1", Prompt: "p", Response: "r2", ModelName: "m", CreatedAt: base.Add(time.Minute), TTLSeconds: 10},
		{ID: "other", ExactHash: "h2", Prompt: "q", Response: "r3", ModelName: "m", CreatedAt: base, TTLSeconds: 3600},
	}
	for _, e := range entries {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Insert(ctx, entries[0]); err == nil {
		t.Error("duplicate ID should fail")
	}

	got, err := store.GetByExactHash(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "new" {
		t.Fatalf("GetByExactHash = %+v, want newest first", got)
	}

	e, ok, err := store.Get(ctx, "old")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !e.CreatedAt.Equal(base) || len(e.Embedding) != 2 || e.Embedding[0] != 1 {
		t.Errorf("round trip lost fields: %+v", e)
	}
	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Error("missing ID found")
	}

	expired, err := store.Expired(ctx, base.Add(65*time.Second), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != "old" {
		t.Errorf("Expired = %v, want [old]", expired)
	}
	expired, _ = store.Expired(ctx, base.Add(2*time.Hour), 2)
	if len(expired) != 2 {
		t.Errorf("Expired limit: got %v", expired)
	}

	n, err := store.Delete(ctx, []string{"old", "missing"})
	if err != nil || n != 1 {
		t.Errorf("Delete = %d, %v", n, err)
	}
	if count, _ := store.Count(ctx); count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if all, _ := store.All(ctx); len(all) != 0 {
		t.Errorf("All after Clear = %v", all)
	}
}
