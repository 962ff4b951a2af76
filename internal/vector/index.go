// Package vector provides the linear-scan vector index used by the memory chunk store.
package vector

import "context"

// VectorIndex stores embeddings by chunk key and answers nearest-neighbour queries.
type VectorIndex interface {
	// Add inserts or replaces vectors by key.
	Add(ctx context.Context, keys []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, keys []string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	Key string
	// Score is the cosine similarity clamped to [0,1].
	Score float64
}
