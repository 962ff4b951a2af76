package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
type MemoryIndex struct {
	dimensions int
	pos        map[string]int
	keys       []string
	vectors    [][]float32
	norms      []float64
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Add inserts vectors, replacing any stored under the same key.
func (m *MemoryIndex) Add(ctx context.Context, keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("keys and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, key := range keys {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[key]; ok {
			m.vectors[p] = vec
			m.norms[p] = L2Norm(vec)
			continue
		}
		m.pos[key] = len(m.keys)
		m.keys = append(m.keys, key)
		m.vectors = append(m.vectors, vec)
		m.norms = append(m.norms, L2Norm(vec))
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity. Ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.keys) == 0 {
		return nil, nil
	}
	qn := L2Norm(query)
	results := make([]*VectorResult, len(m.keys))
	for i, vec := range m.vectors {
		results[i] = &VectorResult{Key: m.keys[i], Score: cosine(query, vec, qn, m.norms[i])}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Remove deletes vectors by key. Unknown keys are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for _, key := range keys {
		if _, ok := m.pos[key]; ok {
			delete(m.pos, key)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	n := 0
	for i, key := range m.keys {
		if _, ok := m.pos[key]; !ok {
			continue
		}
		m.keys[n], m.vectors[n], m.norms[n] = key, m.vectors[i], m.norms[i]
		m.pos[key] = n
		n++
	}
	m.keys, m.vectors, m.norms = m.keys[:n], m.vectors[:n], m.norms[:n]
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
