// Package embedding provides text embedding providers (hashed, OpenAI-compatible, ONNX) and caching.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the model so stored chunks can be tagged with it.
	Model() string
	Close() error
}
