// Package chunkstore holds indexed chunks for hybrid retrieval. The engine backend
// is Redis/Valkey Search; the memory backend serves when the engine is unreachable.
package chunkstore

import (
	"context"

	"github.com/hyperjump/shiryo/internal/models"
)

// Mode names the backend currently serving requests.
type Mode string

const (
	ModeEngine Mode = "engine"
	ModeMemory Mode = "memory"
)

// Hit is one retrieved chunk with its backend score. Keyword scores are backend
// relevance; vector scores are cosine similarity in [0,1].
type Hit struct {
	Chunk *models.IndexedChunk
	Score float64
}

// Store is a chunk index supporting keyword and vector retrieval.
// Implementations are safe for concurrent use.
type Store interface {
	// Replace removes every chunk of docID, then inserts chunks.
	Replace(ctx context.Context, docID int64, chunks []*models.IndexedChunk) error
	DeleteDocument(ctx context.Context, docID int64) error
	KeywordSearch(ctx context.Context, text string, k int) ([]Hit, error)
	VectorSearch(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Operation names used in errors, logs and metrics.
const (
	OpReplace       = "replace"
	OpDelete        = "delete"
	OpKeywordSearch = "keyword_search"
	OpVectorSearch  = "vector_search"
	OpCount         = "count"
	OpCreateIndex   = "create_index"
)

// EngineError wraps a search engine failure with the operation that failed.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return "engine " + e.Op + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }
