package models

import "fmt"

// SearchQuery represents a hybrid search request.
type SearchQuery struct {
	Query           string `json:"query" validate:"required"`
	Limit           int    `json:"limit,omitempty" validate:"gte=0"`
	KeywordEnabled  bool   `json:"keyword_enabled,omitempty"`
	SemanticEnabled bool   `json:"semantic_enabled,omitempty"`
	// RequireKeywordMatch overrides the configured keyword gate when set.
	RequireKeywordMatch *bool `json:"require_keyword_match,omitempty"`
	// ChunkLevel keeps every chunk instead of collapsing to one per document.
	ChunkLevel bool    `json:"chunk_level,omitempty"`
	DocIDs     []int64 `json:"doc_ids,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty; otherwise normalizes limit and enables at least one search type.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if !q.KeywordEnabled && !q.SemanticEnabled {
		q.KeywordEnabled = true
		q.SemanticEnabled = true
	}
	return nil
}
