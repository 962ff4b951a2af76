package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/models"
)

func testChunk(docID, chunkID int64, content string, vec ...float32) *models.IndexedChunk {
	return &models.IndexedChunk{
		ChunkRecord: models.ChunkRecord{ID: chunkID, DocID: docID, ChunkType: models.ChunkParagraph, Content: content},
		Embedding:   vec,
		DedupStatus: models.DedupUnique,
		Filename:    "doc.txt",
	}
}

func newTestMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m, err := NewMemoryStore(2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryStore_ReplaceAndSearch(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	require.NoError(t, m.Replace(ctx, 1, []*models.IndexedChunk{
		testChunk(1, 1, "solar panels on the roof", 1, 0),
		testChunk(1, 2, "wind turbines offshore", 0, 1),
	}))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	hits, err := m.KeywordSearch(ctx, "solar", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1:1", hits[0].Chunk.Key())

	hits, err = m.VectorSearch(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryStore_ReplaceRemovesOldChunks(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	require.NoError(t, m.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 1, "old marmalade text", 1, 0)}))
	require.NoError(t, m.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 5, "new content", 1, 0)}))

	hits, err := m.KeywordSearch(ctx, "marmalade", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	n, _ := m.Count(ctx)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t)

	require.NoError(t, m.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 1, "alpha", 1, 0)}))
	require.NoError(t, m.Replace(ctx, 2, []*models.IndexedChunk{testChunk(2, 2, "alpha", 0, 1)}))
	require.NoError(t, m.DeleteDocument(ctx, 1))
	require.NoError(t, m.DeleteDocument(ctx, 99))

	hits, err := m.KeywordSearch(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].Chunk.DocID)
}

func TestMemoryStore_ReplaceRejectsForeignChunk(t *testing.T) {
	m := newTestMemory(t)
	err := m.Replace(context.Background(), 1, []*models.IndexedChunk{testChunk(2, 1, "x", 1, 0)})
	assert.Error(t, err)
}
