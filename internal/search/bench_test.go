package search

import (
	"testing"

	"github.com/hyperjump/shiryo/internal/chunkstore"
)

func BenchmarkFuseRRF(b *testing.B) {
	kw := make([]chunkstore.Hit, 100)
	vec := make([]chunkstore.Hit, 100)
	for i := range kw {
		kw[i] = hit(int64(i%40), int64(i), float64(100-i))
		vec[i] = hit(int64((i+7)%40), int64(i+50), float64(i)/100)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fused := FuseRRF(kw, vec, 60, true)
		_ = CollapseByDocument(fused)
	}
}
