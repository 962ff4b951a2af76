package embedding

import (
	"testing"

	"github.com/hyperjump/shiryo/internal/config"
)

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "hash", Dimensions: 32, CacheSize: 8}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if e.Dimensions() != 32 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}

	if _, err := New(config.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Error("unknown provider should fail")
	}

	o, err := New(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 384}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.Model() != "text-embedding-3-small" {
		t.Errorf("Model() = %q", o.Model())
	}
}
