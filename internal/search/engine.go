package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
)

const snippetRunes = 320

// PenaltyPolicy supplies the dedup settings that demote non-primary near-duplicates.
// *dedup.Service implements it.
type PenaltyPolicy interface {
	Mode() dedup.Mode
	Policy() dedup.IndexPolicy
	Penalty() float64
}

// Engine runs hybrid (keyword + semantic) search.
type Engine struct {
	store     chunkstore.Store
	embedder  embedding.Embedder
	config    *config.SearchConfig
	penalties PenaltyPolicy
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPenaltyPolicy enables the near-duplicate score penalty.
func WithPenaltyPolicy(p PenaltyPolicy) Option {
	return func(e *Engine) { e.penalties = p }
}

// NewEngine creates a search engine over store.
func NewEngine(store chunkstore.Store, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs hybrid search. Results are one hit per document unless the query asks
// for chunk-level results.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}
	depth := candidateDepth(query.Limit, e.config)

	var keywordHits, vectorHits []chunkstore.Hit
	g, gctx := errgroup.WithContext(ctx)
	if query.KeywordEnabled {
		g.Go(func() error {
			hits, err := e.store.KeywordSearch(gctx, query.Query, depth)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordHits = FilterDocuments(hits, query.DocIDs)
			return nil
		})
	}
	if query.SemanticEnabled {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, query.Query)
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			hits, err := e.store.VectorSearch(gctx, vec, depth)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			vectorHits = FilterDocuments(hits, query.DocIDs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := FuseRRF(keywordHits, vectorHits, e.config.RRFK, keywordGate(query, e.config))
	if p := e.penalties; p != nil {
		mode, policy := p.Mode(), p.Policy()
		ApplyPenalty(fused, p.Penalty(), func(c *models.IndexedChunk) bool {
			s := dedup.Subject{ID: c.DocID, Status: c.DedupStatus, PrimaryDocID: c.DedupPrimaryDocID}
			return dedup.IsPenalized(s, mode, policy)
		})
	}
	if !query.ChunkLevel {
		fused = CollapseByDocument(fused)
	}

	total := len(fused)
	if len(fused) > query.Limit {
		fused = fused[:query.Limit]
	}

	mode := e.mode()
	elapsed := time.Since(startTime)
	metrics.SearchRequestsTotal.WithLabelValues(string(mode)).Inc()
	metrics.SearchDuration.Observe(elapsed.Seconds())
	e.logger.Debug("search finished",
		zap.String("query", query.Query),
		zap.Int("keyword_candidates", len(keywordHits)),
		zap.Int("vector_candidates", len(vectorHits)),
		zap.Int("total", total),
		zap.String("index_mode", string(mode)),
		zap.Duration("elapsed", elapsed))

	response := &models.SearchResponse{
		Hits:      make([]*models.SearchHit, 0, len(fused)),
		Total:     total,
		QueryTime: elapsed.Milliseconds(),
		Query:     query.Query,
		IndexMode: string(mode),
	}
	for _, f := range fused {
		response.Hits = append(response.Hits, toSearchHit(f, query.Query))
	}
	return response, nil
}

// mode reports the backend serving the store; plain stores count as engine.
func (e *Engine) mode() chunkstore.Mode {
	if m, ok := e.store.(interface{ Mode() chunkstore.Mode }); ok {
		return m.Mode()
	}
	if _, ok := e.store.(*chunkstore.MemoryStore); ok {
		return chunkstore.ModeMemory
	}
	return chunkstore.ModeEngine
}

func toSearchHit(f *FusedHit, query string) *models.SearchHit {
	c := f.Chunk
	return &models.SearchHit{
		Key:          c.Key(),
		DocID:        c.DocID,
		ChunkID:      c.ID,
		ChunkIndex:   c.ChunkIndex,
		ChunkType:    c.ChunkType,
		Content:      c.Content,
		Snippet:      Highlight(c.Content, query, snippetRunes),
		Page:         c.Page,
		SectionTitle: c.SectionTitle,
		Filename:     c.Filename,
		Title:        c.Title,
		Score:        f.Score,
		KeywordRank:  f.KeywordRank,
		VectorRank:   f.VectorRank,
		KeywordScore: f.KeywordScore,
		VectorScore:  f.VectorScore,
		DedupStatus:  c.DedupStatus,
		Penalized:    f.Penalized,
	}
}
