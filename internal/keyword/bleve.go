package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/shiryo/internal/models"
)

// Field boosts of the disjunction query. Filename hits rank highest, then exact
// content phrases, then title and summary, then loose content terms.
const (
	filenameBoost = 8.0
	phraseBoost   = 4.0
	titleBoost    = 2.0
	summaryBoost  = 2.0
	contentBoost  = 1.0
)

// chunkDoc is the bleve representation of an indexed chunk.
type chunkDoc struct {
	DocID     float64 `json:"doc_id"`
	ChunkType string  `json:"chunk_type"`
	Content   string  `json:"content"`
	Filename  string  `json:"filename"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact words match.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	for _, f := range []string{"content", "filename", "title", "summary"} {
		docMapping.AddFieldMappingsAt(f, text)
	}
	docMapping.AddFieldMappingsAt("chunk_type", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("doc_id", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces chunks in one batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.IndexedChunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDoc{
			DocID:     float64(c.DocID),
			ChunkType: string(c.ChunkType),
			Content:   c.Content,
			Filename:  NormalizeFilename(c.Filename),
			Title:     c.Title,
			Summary:   c.Summary,
		}
		if err := batch.Index(c.Key(), doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.Key(), err)
		}
	}
	return b.index.Batch(batch)
}

// NormalizeFilename replaces underscores, dots and dashes with spaces so the
// standard analyzer splits "company_profile_2021.pdf" into words.
func NormalizeFilename(name string) string {
	return strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(name)
}

// Search runs the boosted disjunction and scales each hit by the squared share of
// query terms it matches, so chunks matching every term outrank partial matches.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(buildQuery(query))
	req.Size = max(limit*2, 50)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, req.Size)
	}

	out := make([]*KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := hit.Score
		if len(terms) > 1 {
			matched := max(coverage[hit.ID], 1)
			share := float64(matched) / float64(len(terms))
			score *= share * share
		}
		out = append(out, &KeywordResult{Key: hit.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func buildQuery(query string) blevequery.Query {
	field := func(name string, boost float64) blevequery.Query {
		q := bleve.NewMatchQuery(query)
		q.SetField(name)
		q.SetBoost(boost)
		return q
	}
	phrase := bleve.NewMatchPhraseQuery(query)
	phrase.SetField("content")
	phrase.SetBoost(phraseBoost)

	return bleve.NewDisjunctionQuery(
		field("filename", filenameBoost),
		phrase,
		field("title", titleBoost),
		field("summary", summaryBoost),
		field("content", contentBoost),
	)
}

// termCoverage counts how many distinct query terms each chunk matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, size int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		req := bleve.NewSearchRequest(bleve.NewMatchQuery(term))
		req.Size = size
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// tokenizeQuery splits query into distinct lowercase terms.
func tokenizeQuery(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// Delete removes chunks by key.
func (b *BleveIndex) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, k := range keys {
		batch.Delete(k)
	}
	return b.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
