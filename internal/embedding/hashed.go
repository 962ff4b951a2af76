package embedding

import (
	"context"

	"github.com/hyperjump/shiryo/pkg/utils"
)

// HashedVector builds a signed hashed bag-of-tokens vector: each token adds ±1 to
// bucket hash%dims, the sign taken from the top hash bit. The result is L2-normalized.
func HashedVector(tokens []string, dims int) []float32 {
	v := make([]float32, dims)
	if dims <= 0 {
		return v
	}
	for _, tok := range tokens {
		h := HashToken(tok)
		bucket := int(h % uint64(dims))
		if h>>63 == 1 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}
	utils.NormalizeL2(v)
	return v
}

// HashEmbedder is a deterministic lexical embedder. It needs no model files, so it serves
// as the offline default and as the embedder in tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns an embedder of the given dimensions (384 when non-positive).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the hashed vector of the text's unigrams and bigrams.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toks := Tokens(text)
	features := make([]string, 0, 2*len(toks))
	features = append(features, toks...)
	for i := 1; i < len(toks); i++ {
		features = append(features, toks[i-1]+"_"+toks[i])
	}
	return HashedVector(features, e.dimensions), nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model tag.
func (e *HashEmbedder) Model() string {
	return "hashed-bow-v1"
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
