// Package search runs hybrid (keyword + vector) retrieval over the chunk store and
// fuses the two ranked lists with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/models"
)

// DefaultRRFK is the rank smoothing constant.
const DefaultRRFK = 60

// FusedHit is a chunk with its fused score and the 1-based rank it held in each list
// (0 when absent).
type FusedHit struct {
	Chunk        *models.IndexedChunk
	Score        float64
	KeywordRank  int
	VectorRank   int
	KeywordScore float64
	VectorScore  float64
	Penalized    bool
}

// FuseRRF merges the keyword and vector lists. Each hit scores the sum of 1/(k+rank)
// over the lists it appears in. With requireKeyword, hits found only by the vector
// search are dropped.
func FuseRRF(keyword, vector []chunkstore.Hit, k int, requireKeyword bool) []*FusedHit {
	if k <= 0 {
		k = DefaultRRFK
	}
	byKey := make(map[string]*FusedHit, len(keyword)+len(vector))
	for i, h := range keyword {
		key := h.Chunk.Key()
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = &FusedHit{
			Chunk:        h.Chunk,
			Score:        rrf(k, i+1),
			KeywordRank:  i + 1,
			KeywordScore: h.Score,
		}
	}
	for i, h := range vector {
		key := h.Chunk.Key()
		f, ok := byKey[key]
		if !ok {
			if requireKeyword {
				continue
			}
			f = &FusedHit{Chunk: h.Chunk}
			byKey[key] = f
		}
		if f.VectorRank != 0 {
			continue
		}
		f.VectorRank = i + 1
		f.VectorScore = h.Score
		f.Score += rrf(k, i+1)
	}

	out := make([]*FusedHit, 0, len(byKey))
	for _, f := range byKey {
		out = append(out, f)
	}
	sortFused(out)
	return out
}

func rrf(k, rank int) float64 {
	return 1 / float64(k+rank)
}

// sortFused orders by score, breaking ties by document then chunk id so results are
// stable across runs.
func sortFused(hits []*FusedHit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.DocID != b.Chunk.DocID {
			return a.Chunk.DocID < b.Chunk.DocID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// ApplyPenalty multiplies the score of every hit for which penalized returns true by
// (1 - penalty) and re-sorts.
func ApplyPenalty(hits []*FusedHit, penalty float64, penalized func(*models.IndexedChunk) bool) {
	if penalty <= 0 || penalized == nil {
		return
	}
	for _, h := range hits {
		if penalized(h.Chunk) {
			h.Score *= 1 - penalty
			h.Penalized = true
		}
	}
	sortFused(hits)
}

// CollapseByDocument keeps the best hit per document. hits must be sorted.
func CollapseByDocument(hits []*FusedHit) []*FusedHit {
	seen := make(map[int64]bool, len(hits))
	out := make([]*FusedHit, 0, len(hits))
	for _, h := range hits {
		if seen[h.Chunk.DocID] {
			continue
		}
		seen[h.Chunk.DocID] = true
		out = append(out, h)
	}
	return out
}

// FilterDocuments keeps hits whose document is in ids. An empty ids keeps everything.
func FilterDocuments(hits []chunkstore.Hit, ids []int64) []chunkstore.Hit {
	if len(ids) == 0 {
		return hits
	}
	allowed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	out := hits[:0:0]
	for _, h := range hits {
		if allowed[h.Chunk.DocID] {
			out = append(out, h)
		}
	}
	return out
}
