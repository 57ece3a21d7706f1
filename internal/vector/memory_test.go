package vector

import (
	"context"
	"math"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []string{"a", "b", "c"}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("results = %+v", results)
	}
}

func TestMemoryIndex_Upsert(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	_ = idx.Add(ctx, []string{"a"}, [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("Size = %d, want 1", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 1)
	if len(res) != 1 || res[0].Score != 1 {
		t.Errorf("results = %+v", res)
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a", "b", "c"}, [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}})
	if err := idx.Remove(ctx, []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size = %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{1, 0}, 5)
	for _, r := range res {
		if r.ID == "a" {
			t.Error("removed vector returned")
		}
	}
	// c moved into a's slot; re-adding it must update in place.
	_ = idx.Add(ctx, []string{"c"}, [][]float32{{1, 0}})
	res, _ = idx.Search(ctx, []float32{1, 0}, 1)
	if res[0].ID != "c" || idx.Size() != 2 {
		t.Errorf("after upsert: %+v size %d", res, idx.Size())
	}
	idx.Reset()
	if idx.Size() != 0 {
		t.Errorf("Size after Reset = %d", idx.Size())
	}
}

func TestMemoryIndex_Errors(t *testing.T) {
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0}}); err == nil {
		t.Error("expected dimension mismatch")
	}
	if err := idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected length mismatch")
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); err == nil {
		t.Error("expected query dimension mismatch")
	}
	if res, err := idx.Search(ctx, []float32{1, 0}, 3); err != nil || res != nil {
		t.Errorf("empty index search = %v, %v", res, err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{2, 0}, []float32{5, 0}); math.Abs(s-1) > 1e-9 {
		t.Errorf("parallel = %f", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Errorf("orthogonal = %f", s)
	}
	if s := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); s != 0 {
		t.Errorf("zero vector = %f", s)
	}
	if s := CosineSimilarity([]float32{1}, []float32{1, 0}); s != 0 {
		t.Errorf("mismatch = %f", s)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []float32{1.5, -2, 0, float32(math.Pi)}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
