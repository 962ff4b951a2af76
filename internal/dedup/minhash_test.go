package dedup

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/models"
)

func wordText(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(words, " ")
}

func TestShinglesAndJaccard(t *testing.T) {
	a := Shingles([]string{"a", "b", "c", "d"}, 2)
	b := Shingles([]string{"a", "b", "c", "e"}, 2)
	assert.Len(t, a, 3)
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(a, a))

	short := Shingles([]string{"x", "y"}, 5)
	assert.Len(t, short, 1, "fewer tokens than k yields one shingle")
	assert.Empty(t, Shingles(nil, 5))
}

func TestMinHasher_SignatureDeterministic(t *testing.T) {
	h := NewMinHasher(64, 8)
	set := Shingles(embedding.Tokens(wordText("w", 50)), 5)
	s1 := h.Signature(set)
	s2 := NewMinHasher(64, 8).Signature(set)
	require.Len(t, s1, 64)
	assert.Equal(t, s1, s2)
	assert.Len(t, h.BandKeys(s1), 8)
}

func TestMinHashDetector_Recall(t *testing.T) {
	base := wordText("term", 200)
	tokens := strings.Fields(base)
	tokens[190] = "changed"
	near := strings.Join(tokens, " ")

	d := NewMinHashDetector(5, 64, 8, 0.9)
	pairs := d.Pairs([]Item{
		{ID: 1, Text: base},
		{ID: 2, Text: near},
		{ID: 3, Text: wordText("other", 200)},
	})
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(1), pairs[0].A)
	assert.Equal(t, int64(2), pairs[0].B)
	assert.Greater(t, pairs[0].Score, 0.9)
}

func TestMinHashDetector_DefaultThreshold(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	dc := cfg.Dedup
	require.Equal(t, 0.93, dc.MinHashThreshold)

	base := wordText("term", 300)
	tokens := strings.Fields(base)
	tokens[150] = "changed"
	near := strings.Join(tokens, " ")
	baseSet := Shingles(embedding.Tokens(base), dc.ShingleSize)
	nearSet := Shingles(embedding.Tokens(near), dc.ShingleSize)
	require.Greater(t, Jaccard(baseSet, nearSet), dc.MinHashThreshold)

	d := NewDetector(string(models.MethodMinHash), dc.ShingleSize, dc.MinHashPerms, dc.MinHashBands,
		dc.MinHashThreshold, dc.EmbeddingDims, dc.SimHashBands, dc.EmbeddingThreshold)
	pairs := d.Pairs([]Item{
		{ID: 1, Text: base},
		{ID: 2, Text: near},
		{ID: 3, Text: wordText("other", 300)},
	})
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(1), pairs[0].A)
	assert.Equal(t, int64(2), pairs[0].B)
	assert.GreaterOrEqual(t, pairs[0].Score, dc.MinHashThreshold)
}

func TestEmbeddingDetector_IdenticalBags(t *testing.T) {
	d := NewEmbeddingDetector(256, 8, 0.95)
	pairs := d.Pairs([]Item{
		{ID: 5, Text: "alpha beta gamma delta epsilon"},
		{ID: 4, Text: "alpha beta gamma delta epsilon"},
		{ID: 6, Text: "completely different words here"},
	})
	require.Len(t, pairs, 1)
	assert.Equal(t, Pair{A: 4, B: 5, Score: pairs[0].Score}, pairs[0])
	assert.InDelta(t, 1.0, pairs[0].Score, 1e-6)
}

func TestHybridDetector_Union(t *testing.T) {
	d := NewDetector("hybrid", 5, 64, 8, 0.9, 256, 8, 0.95)
	assert.Equal(t, "hybrid", string(d.Method()))
	base := wordText("term", 100)
	pairs := d.Pairs([]Item{{ID: 1, Text: base}, {ID: 2, Text: base}})
	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Score, 1e-6)
	assert.Contains(t, d.Params(), "minhash")
}

func TestSimHashBands(t *testing.T) {
	fp := SimHash([]string{"a", "b", "c"}, embedding.HashToken)
	bands := SimHashBands(fp, 8)
	assert.Len(t, bands, 8)
	assert.Equal(t, bands, SimHashBands(fp, 8))
}
