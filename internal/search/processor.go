package search

import (
	"strings"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/models"
)

// ProcessQuery trims the query and applies configured defaults before validation.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	query.Query = strings.TrimSpace(query.Query)
	if query.Limit <= 0 && cfg.DefaultLimit > 0 {
		query.Limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && query.Limit > cfg.MaxLimit {
		query.Limit = cfg.MaxLimit
	}
	if !query.KeywordEnabled && !query.SemanticEnabled {
		query.KeywordEnabled = cfg.DefaultKeywordEnabled
		query.SemanticEnabled = cfg.DefaultSemanticEnabled
	}
	return query.Validate()
}

// candidateDepth is how many hits each list fetches before fusion.
func candidateDepth(limit int, cfg *config.SearchConfig) int {
	return max(limit*max(cfg.CandidateMultiplier, 1), cfg.MinCandidates, limit)
}

// keywordGate resolves whether vector-only hits are dropped. The gate only applies
// when both lists run; chunk-level queries leave it off unless asked.
func keywordGate(query *models.SearchQuery, cfg *config.SearchConfig) bool {
	if !query.KeywordEnabled || !query.SemanticEnabled {
		return false
	}
	if query.RequireKeywordMatch != nil {
		return *query.RequireKeywordMatch
	}
	if query.ChunkLevel {
		return false
	}
	return cfg.RequireKeywordMatchOrDefault()
}
