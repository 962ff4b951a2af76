package chunkstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/shiryo/internal/keyword"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/vector"
)

// MemoryStore keeps chunks in process: a bleve in-memory index for keyword search and
// a linear-scan cosine index for vectors.
type MemoryStore struct {
	mu      sync.RWMutex
	chunks  map[string]*models.IndexedChunk
	byDoc   map[int64][]string
	keyword keyword.KeywordIndex
	vectors vector.VectorIndex
}

// NewMemoryStore creates an empty memory store for vectors of the given size.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		return nil, err
	}
	vec, err := vector.NewMemoryIndex(dimensions)
	if err != nil {
		_ = kw.Close()
		return nil, err
	}
	return &MemoryStore{
		chunks:  make(map[string]*models.IndexedChunk),
		byDoc:   make(map[int64][]string),
		keyword: kw,
		vectors: vec,
	}, nil
}

// Replace removes the document's chunks and inserts the new ones.
func (m *MemoryStore) Replace(ctx context.Context, docID int64, chunks []*models.IndexedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteLocked(ctx, docID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	keys := make([]string, 0, len(chunks))
	var vecKeys []string
	var vecs [][]float32
	for _, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s does not belong to document %d", c.Key(), docID)
		}
		keys = append(keys, c.Key())
		if len(c.Embedding) > 0 {
			vecKeys = append(vecKeys, c.Key())
			vecs = append(vecs, c.Embedding)
		}
	}
	if err := m.keyword.Index(ctx, chunks); err != nil {
		return err
	}
	if err := m.vectors.Add(ctx, vecKeys, vecs); err != nil {
		return err
	}
	for _, c := range chunks {
		m.chunks[c.Key()] = c
	}
	m.byDoc[docID] = keys
	return nil
}

// DeleteDocument removes every chunk of docID.
func (m *MemoryStore) DeleteDocument(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, docID)
}

func (m *MemoryStore) deleteLocked(ctx context.Context, docID int64) error {
	keys := m.byDoc[docID]
	if len(keys) == 0 {
		return nil
	}
	if err := m.keyword.Delete(ctx, keys); err != nil {
		return err
	}
	if err := m.vectors.Remove(ctx, keys); err != nil {
		return err
	}
	for _, k := range keys {
		delete(m.chunks, k)
	}
	delete(m.byDoc, docID)
	return nil
}

// KeywordSearch returns up to k chunks by keyword relevance.
func (m *MemoryStore) KeywordSearch(ctx context.Context, text string, k int) ([]Hit, error) {
	results, err := m.keyword.Search(ctx, text, k)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if c, ok := m.chunks[r.Key]; ok {
			hits = append(hits, Hit{Chunk: c, Score: r.Score})
		}
	}
	return hits, nil
}

// VectorSearch returns up to k chunks by cosine similarity.
func (m *MemoryStore) VectorSearch(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	results, err := m.vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if c, ok := m.chunks[r.Key]; ok {
			hits = append(hits, Hit{Chunk: c, Score: r.Score})
		}
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.chunks)), nil
}

// Close releases the keyword index.
func (m *MemoryStore) Close() error {
	_ = m.vectors.Close()
	return m.keyword.Close()
}
