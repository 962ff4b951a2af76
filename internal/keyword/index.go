// Package keyword provides the full-text side of the memory chunk store.
package keyword

import (
	"context"

	"github.com/hyperjump/shiryo/internal/models"
)

// KeywordIndex defines keyword search over indexed chunks.
type KeywordIndex interface {
	// Index adds or replaces chunks under their keys.
	Index(ctx context.Context, chunks []*models.IndexedChunk) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, keys []string) error
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	Key   string
	Score float64
}
