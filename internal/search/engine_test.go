package search

import (
	"context"
	"testing"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/models"
)

const testDims = 64

type fixedPolicy struct{}

func (fixedPolicy) Mode() dedup.Mode          { return dedup.ModeExactAndNear }
func (fixedPolicy) Policy() dedup.IndexPolicy { return dedup.PolicyIndexPrimaryPrefer }
func (fixedPolicy) Penalty() float64          { return 0.2 }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *chunkstore.MemoryStore, *embedding.HashEmbedder) {
	t.Helper()
	store, err := chunkstore.NewMemoryStore(testDims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	emb := embedding.NewHashEmbedder(testDims)
	return NewEngine(store, emb, &cfg.Search, opts...), store, emb
}

func index(t *testing.T, store chunkstore.Store, emb embedding.Embedder, c *models.IndexedChunk) {
	t.Helper()
	vec, err := emb.Embed(context.Background(), c.Content)
	if err != nil {
		t.Fatal(err)
	}
	c.Embedding = vec
	if c.DedupStatus == "" {
		c.DedupStatus = models.DedupUnique
	}
	if err := store.Replace(context.Background(), c.DocID, []*models.IndexedChunk{c}); err != nil {
		t.Fatal(err)
	}
}

func chunk(docID, chunkID int64, content string) *models.IndexedChunk {
	return &models.IndexedChunk{
		ChunkRecord: models.ChunkRecord{ID: chunkID, DocID: docID, ChunkType: models.ChunkParagraph, Content: content},
		Filename:    "file.pdf",
	}
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	engine, store, emb := newTestEngine(t)
	index(t, store, emb, chunk(1, 1, "machine learning algorithms for text"))
	index(t, store, emb, chunk(2, 2, "cooking recipes with garlic"))

	resp, err := engine.Search(ctx, &models.SearchQuery{Query: "machine learning"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("expected 1 hit with the keyword gate on, got %d", len(resp.Hits))
	}
	h := resp.Hits[0]
	if h.DocID != 1 || h.KeywordRank != 1 || h.VectorRank != 1 {
		t.Errorf("unexpected hit %+v", h)
	}
	if resp.IndexMode != string(chunkstore.ModeMemory) {
		t.Errorf("index mode = %q, want memory", resp.IndexMode)
	}
}

func TestEngine_GateOverride(t *testing.T) {
	ctx := context.Background()
	engine, store, emb := newTestEngine(t)
	index(t, store, emb, chunk(1, 1, "machine learning algorithms"))
	index(t, store, emb, chunk(2, 2, "cooking recipes with garlic"))

	off := false
	resp, err := engine.Search(ctx, &models.SearchQuery{Query: "machine learning", RequireKeywordMatch: &off})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("expected vector-only hit kept, got %d hits", len(resp.Hits))
	}
	if resp.Hits[0].DocID != 1 {
		t.Errorf("expected doc 1 first, got %d", resp.Hits[0].DocID)
	}
}

func TestEngine_ChunkLevelAndCollapse(t *testing.T) {
	ctx := context.Background()
	engine, store, emb := newTestEngine(t)

	a := chunk(1, 1, "solar panel installation guide")
	b := chunk(1, 2, "solar panel maintenance schedule")
	for _, c := range []*models.IndexedChunk{a, b} {
		vec, _ := emb.Embed(ctx, c.Content)
		c.Embedding = vec
		c.DedupStatus = models.DedupUnique
	}
	if err := store.Replace(ctx, 1, []*models.IndexedChunk{a, b}); err != nil {
		t.Fatal(err)
	}

	docs, err := engine.Search(ctx, &models.SearchQuery{Query: "solar panel"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs.Hits) != 1 {
		t.Errorf("document-level search should collapse to 1 hit, got %d", len(docs.Hits))
	}

	chunks, err := engine.Search(ctx, &models.SearchQuery{Query: "solar panel", ChunkLevel: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks.Hits) != 2 {
		t.Errorf("chunk-level search should keep 2 hits, got %d", len(chunks.Hits))
	}
}

func TestEngine_NearDuplicatePenalty(t *testing.T) {
	ctx := context.Background()
	engine, store, emb := newTestEngine(t, WithPenaltyPolicy(fixedPolicy{}))

	dup := chunk(1, 1, "annual safety inspection report")
	dup.DedupStatus = models.DedupNearDup
	dup.DedupPrimaryDocID = models.Int64Ptr(2)
	index(t, store, emb, dup)
	primary := chunk(2, 2, "annual safety inspection report")
	primary.DedupStatus = models.DedupNearDup
	primary.DedupPrimaryDocID = models.Int64Ptr(2)
	primary.DedupIsPrimary = true
	index(t, store, emb, primary)

	resp, err := engine.Search(ctx, &models.SearchQuery{Query: "safety inspection"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(resp.Hits))
	}
	if resp.Hits[0].DocID != 2 || resp.Hits[0].Penalized {
		t.Errorf("expected primary first and unpenalized, got %+v", resp.Hits[0])
	}
	if !resp.Hits[1].Penalized {
		t.Error("expected non-primary near duplicate penalized")
	}
}

func TestEngine_DocFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	engine, store, emb := newTestEngine(t)
	for i := int64(1); i <= 4; i++ {
		index(t, store, emb, chunk(i, i, "shared harbour timetable"))
	}

	resp, err := engine.Search(ctx, &models.SearchQuery{Query: "harbour", DocIDs: []int64{2, 4}})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range resp.Hits {
		if h.DocID != 2 && h.DocID != 4 {
			t.Errorf("doc %d should be filtered out", h.DocID)
		}
	}

	resp, err = engine.Search(ctx, &models.SearchQuery{Query: "harbour", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 || resp.Total != 4 {
		t.Errorf("got %d hits of %d, want 2 of 4", len(resp.Hits), resp.Total)
	}
}

func TestEngine_EmptyQuery(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Search(context.Background(), &models.SearchQuery{Query: "   "}); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestProcessQuery(t *testing.T) {
	cfg := &config.SearchConfig{DefaultLimit: 7, MaxLimit: 20, DefaultKeywordEnabled: true}
	q := &models.SearchQuery{Query: " x "}
	if err := ProcessQuery(q, cfg); err != nil {
		t.Fatal(err)
	}
	if q.Query != "x" || q.Limit != 7 || !q.KeywordEnabled || q.SemanticEnabled {
		t.Errorf("unexpected processed query %+v", q)
	}

	q = &models.SearchQuery{Query: "x", Limit: 50}
	_ = ProcessQuery(q, cfg)
	if q.Limit != 20 {
		t.Errorf("limit = %d, want 20", q.Limit)
	}
}

func TestCandidateDepth(t *testing.T) {
	cfg := &config.SearchConfig{CandidateMultiplier: 5, MinCandidates: 50}
	if got := candidateDepth(10, cfg); got != 50 {
		t.Errorf("depth = %d, want 50", got)
	}
	if got := candidateDepth(30, cfg); got != 150 {
		t.Errorf("depth = %d, want 150", got)
	}
}
