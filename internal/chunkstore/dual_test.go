package chunkstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiryo/internal/models"
)

// fakeEngine wraps a memory store and fails every call while down is set.
type fakeEngine struct {
	mu    sync.Mutex
	inner *MemoryStore
	down  bool
	calls int
}

var errEngineDown = &EngineError{Op: "test", Err: errors.New("connection refused")}

func (f *fakeEngine) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errEngineDown
	}
	return nil
}

func (f *fakeEngine) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeEngine) Replace(ctx context.Context, docID int64, chunks []*models.IndexedChunk) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Replace(ctx, docID, chunks)
}

func (f *fakeEngine) DeleteDocument(ctx context.Context, docID int64) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.DeleteDocument(ctx, docID)
}

func (f *fakeEngine) KeywordSearch(ctx context.Context, text string, k int) ([]Hit, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.KeywordSearch(ctx, text, k)
}

func (f *fakeEngine) VectorSearch(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.VectorSearch(ctx, vec, k)
}

func (f *fakeEngine) Count(ctx context.Context) (int64, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.inner.Count(ctx)
}

func (f *fakeEngine) Close() error { return f.inner.Close() }

func newDual(t *testing.T, mirror bool) (*DualStore, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{inner: newTestMemory(t)}
	d := NewDualStore(engine, newTestMemory(t), WithMirrorWrites(mirror))
	return d, engine
}

func TestDualStore_FallbackAndRecovery(t *testing.T) {
	ctx := context.Background()
	d, engine := newDual(t, true)
	assert.Equal(t, ModeEngine, d.Mode())

	require.NoError(t, d.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 1, "harbour crane schedule", 1, 0)}))

	engine.setDown(true)
	hits, err := d.KeywordSearch(ctx, "crane", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1, "mirrored chunk served from memory")
	assert.Equal(t, ModeMemory, d.Mode())

	engine.setDown(false)
	_, err = d.VectorSearch(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, ModeEngine, d.Mode())
}

func TestDualStore_WithoutMirrorMemoryIsEmpty(t *testing.T) {
	ctx := context.Background()
	d, engine := newDual(t, false)

	require.NoError(t, d.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 1, "harbour crane schedule", 1, 0)}))
	engine.setDown(true)
	hits, err := d.KeywordSearch(ctx, "crane", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDualStore_WriteWhileDegraded(t *testing.T) {
	ctx := context.Background()
	d, engine := newDual(t, true)
	engine.setDown(true)

	require.NoError(t, d.Replace(ctx, 3, []*models.IndexedChunk{testChunk(3, 9, "quarantined ledger", 0, 1)}))
	assert.Equal(t, ModeMemory, d.Mode())

	n, err := d.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, d.DeleteDocument(ctx, 3))
	n, _ = d.Count(ctx)
	assert.EqualValues(t, 0, n)
}

func TestDualStore_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	d := NewDualStore(nil, newTestMemory(t))
	assert.Equal(t, ModeMemory, d.Mode())

	require.NoError(t, d.Replace(ctx, 1, []*models.IndexedChunk{testChunk(1, 1, "only memory", 1, 0)}))
	hits, err := d.VectorSearch(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDualStore_CanceledContextKeepsMode(t *testing.T) {
	d, _ := newDual(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.degrade(ctx, OpCount, context.Canceled)
	assert.Equal(t, ModeEngine, d.Mode())
}

func TestEngineError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&EngineError{Op: OpCount, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "engine count: boom", err.Error())
}
