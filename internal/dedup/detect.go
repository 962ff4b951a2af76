package dedup

import (
	"sort"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/models"
)

// Item is a document's normalized text offered to a near-duplicate detector.
type Item struct {
	ID   int64
	Text string
}

// Pair is an accepted near-duplicate pair with A < B.
type Pair struct {
	A, B  int64
	Score float64
}

// Detector finds accepted near-duplicate pairs among items.
type Detector interface {
	Method() models.DedupMethod
	Pairs(items []Item) []Pair
	// Params describes the thresholds used, stored with each cluster.
	Params() map[string]any
}

type pairKey struct{ a, b int64 }

func orderedKey(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// candidatePairs returns every pair of item indexes sharing at least one bucket key.
func candidatePairs(keys [][]uint64) map[[2]int]struct{} {
	buckets := make(map[uint64][]int)
	for i, ks := range keys {
		for _, k := range ks {
			buckets[k] = append(buckets[k], i)
		}
	}
	out := make(map[[2]int]struct{})
	for _, members := range buckets {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				out[[2]int{members[x], members[y]}] = struct{}{}
			}
		}
	}
	return out
}

func sortPairs(pairs []Pair) []Pair {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// MinHashDetector accepts pairs whose shingle-set Jaccard similarity reaches Threshold.
type MinHashDetector struct {
	ShingleSize int
	Threshold   float64
	hasher      *MinHasher
	perms       int
	bands       int
}

// NewMinHashDetector builds a detector with k-token shingles and banded MinHash signatures.
func NewMinHashDetector(shingleSize, perms, bands int, threshold float64) *MinHashDetector {
	return &MinHashDetector{
		ShingleSize: shingleSize,
		Threshold:   threshold,
		hasher:      NewMinHasher(perms, bands),
		perms:       perms,
		bands:       bands,
	}
}

// Method returns minhash.
func (d *MinHashDetector) Method() models.DedupMethod { return models.MethodMinHash }

// Params returns the detector settings.
func (d *MinHashDetector) Params() map[string]any {
	return map[string]any{
		"shingle_size": d.ShingleSize,
		"perms":        d.perms,
		"bands":        d.bands,
		"threshold":    d.Threshold,
	}
}

// Pairs returns accepted pairs with their Jaccard score.
func (d *MinHashDetector) Pairs(items []Item) []Pair {
	return d.scored(items, nil)
}

func (d *MinHashDetector) scored(items []Item, sets []map[uint64]struct{}) []Pair {
	if sets == nil {
		sets = d.shingleSets(items)
	}
	keys := make([][]uint64, len(items))
	for i, s := range sets {
		if len(s) == 0 {
			continue
		}
		keys[i] = d.hasher.BandKeys(d.hasher.Signature(s))
	}
	var pairs []Pair
	for c := range candidatePairs(keys) {
		score := Jaccard(sets[c[0]], sets[c[1]])
		if score >= d.Threshold {
			k := orderedKey(items[c[0]].ID, items[c[1]].ID)
			pairs = append(pairs, Pair{A: k.a, B: k.b, Score: score})
		}
	}
	return sortPairs(pairs)
}

func (d *MinHashDetector) shingleSets(items []Item) []map[uint64]struct{} {
	sets := make([]map[uint64]struct{}, len(items))
	for i, it := range items {
		sets[i] = Shingles(embedding.Tokens(it.Text), d.ShingleSize)
	}
	return sets
}

// EmbeddingDetector accepts pairs whose hashed bag-of-tokens vectors reach Threshold cosine.
// Candidates come from banded 64-bit SimHash fingerprints.
type EmbeddingDetector struct {
	Dims      int
	Bands     int
	Threshold float64
}

// NewEmbeddingDetector builds a hashed-embedding detector.
func NewEmbeddingDetector(dims, bands int, threshold float64) *EmbeddingDetector {
	return &EmbeddingDetector{Dims: dims, Bands: bands, Threshold: threshold}
}

// Method returns doc_embedding.
func (d *EmbeddingDetector) Method() models.DedupMethod { return models.MethodDocEmbedding }

// Params returns the detector settings.
func (d *EmbeddingDetector) Params() map[string]any {
	return map[string]any{
		"dims":      d.Dims,
		"bands":     d.Bands,
		"threshold": d.Threshold,
	}
}

// Pairs returns accepted pairs with their cosine score.
func (d *EmbeddingDetector) Pairs(items []Item) []Pair {
	vecs, keys := d.features(items)
	var pairs []Pair
	for c := range candidatePairs(keys) {
		score := Cosine(vecs[c[0]], vecs[c[1]])
		if score >= d.Threshold {
			k := orderedKey(items[c[0]].ID, items[c[1]].ID)
			pairs = append(pairs, Pair{A: k.a, B: k.b, Score: score})
		}
	}
	return sortPairs(pairs)
}

func (d *EmbeddingDetector) features(items []Item) ([][]float32, [][]uint64) {
	vecs := make([][]float32, len(items))
	keys := make([][]uint64, len(items))
	for i, it := range items {
		toks := embedding.Tokens(it.Text)
		vecs[i] = embedding.HashedVector(toks, d.Dims)
		if len(toks) > 0 {
			keys[i] = SimHashBands(SimHash(toks, embedding.HashToken), d.Bands)
		}
	}
	return vecs, keys
}

// HybridDetector accepts the union of MinHash and embedding pairs, scoring each pair with
// the higher of the two similarities.
type HybridDetector struct {
	MinHash   *MinHashDetector
	Embedding *EmbeddingDetector
}

// Method returns hybrid.
func (d *HybridDetector) Method() models.DedupMethod { return models.MethodHybrid }

// Params returns both detectors' settings.
func (d *HybridDetector) Params() map[string]any {
	return map[string]any{
		"minhash":       d.MinHash.Params(),
		"doc_embedding": d.Embedding.Params(),
	}
}

// Pairs returns the union of both detectors' accepted pairs.
func (d *HybridDetector) Pairs(items []Item) []Pair {
	sets := d.MinHash.shingleSets(items)
	vecs, _ := d.Embedding.features(items)
	index := make(map[int64]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}

	accepted := make(map[pairKey]struct{})
	for _, p := range d.MinHash.scored(items, sets) {
		accepted[pairKey{p.A, p.B}] = struct{}{}
	}
	for _, p := range d.Embedding.Pairs(items) {
		accepted[pairKey{p.A, p.B}] = struct{}{}
	}

	pairs := make([]Pair, 0, len(accepted))
	for k := range accepted {
		i, j := index[k.a], index[k.b]
		score := max(Jaccard(sets[i], sets[j]), Cosine(vecs[i], vecs[j]))
		pairs = append(pairs, Pair{A: k.a, B: k.b, Score: score})
	}
	return sortPairs(pairs)
}

// NewDetector builds the detector for a configured method name.
func NewDetector(method string, shingleSize, perms, bands int, minhashThreshold float64,
	dims, simBands int, embeddingThreshold float64) Detector {
	mh := NewMinHashDetector(shingleSize, perms, bands, minhashThreshold)
	emb := NewEmbeddingDetector(dims, simBands, embeddingThreshold)
	switch models.DedupMethod(method) {
	case models.MethodMinHash:
		return mh
	case models.MethodDocEmbedding:
		return emb
	default:
		return &HybridDetector{MinHash: mh, Embedding: emb}
	}
}
