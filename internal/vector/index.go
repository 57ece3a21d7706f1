// Package vector provides nearest-neighbor search over normalized embeddings.
package vector

import "context"

// Index stores vectors by ID and answers top-k similarity queries.
type Index interface {
	// Add inserts vectors, replacing any existing vector with the same ID.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
	Close() error
}

// Result is one search hit. Score is the inner product, which equals cosine similarity for
// normalized vectors.
type Result struct {
	ID    string
	Score float64
}
