package chunkstore

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
)

// DualStore tries the engine first for every call and serves from memory when the
// engine fails. Engine writes are mirrored to memory (when enabled) so degraded reads
// still see chunks indexed by this process.
type DualStore struct {
	engine Store
	memory *MemoryStore
	mirror bool
	active atomic.Bool
	logger *zap.Logger
}

// DualOption configures a DualStore.
type DualOption func(*DualStore)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *zap.Logger) DualOption {
	return func(d *DualStore) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMirrorWrites controls whether successful engine writes are copied to memory.
func WithMirrorWrites(on bool) DualOption {
	return func(d *DualStore) { d.mirror = on }
}

// NewDualStore wraps engine and memory. A nil engine serves everything from memory.
func NewDualStore(engine Store, memory *MemoryStore, opts ...DualOption) *DualStore {
	d := &DualStore{
		engine: engine,
		memory: memory,
		mirror: true,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.setActive(engine != nil)
	return d
}

// Mode reports which backend served the most recent call.
func (d *DualStore) Mode() Mode {
	if d.active.Load() {
		return ModeEngine
	}
	return ModeMemory
}

func (d *DualStore) setActive(on bool) {
	if d.active.Swap(on) == on {
		return
	}
	if on {
		metrics.IndexMode.Set(1)
		d.logger.Info("search engine available, leaving memory mode")
		return
	}
	metrics.IndexMode.Set(0)
}

// degrade records an engine failure. Context cancellation by the caller is not an
// engine fault and leaves the mode alone.
func (d *DualStore) degrade(ctx context.Context, op string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	metrics.IndexFallbacksTotal.WithLabelValues(op).Inc()
	d.logger.Warn("search engine call failed, serving from memory",
		zap.String("op", op),
		zap.Error(err))
	d.setActive(false)
}

// Replace writes to the engine and mirrors to memory.
func (d *DualStore) Replace(ctx context.Context, docID int64, chunks []*models.IndexedChunk) error {
	if d.engine == nil {
		return d.memory.Replace(ctx, docID, chunks)
	}
	err := d.engine.Replace(ctx, docID, chunks)
	if err == nil {
		d.setActive(true)
		if d.mirror {
			return d.memory.Replace(ctx, docID, chunks)
		}
		return nil
	}
	d.degrade(ctx, OpReplace, err)
	return d.memory.Replace(ctx, docID, chunks)
}

// DeleteDocument deletes from both backends.
func (d *DualStore) DeleteDocument(ctx context.Context, docID int64) error {
	memErr := d.memory.DeleteDocument(ctx, docID)
	if d.engine == nil {
		return memErr
	}
	if err := d.engine.DeleteDocument(ctx, docID); err != nil {
		d.degrade(ctx, OpDelete, err)
		return memErr
	}
	d.setActive(true)
	return memErr
}

// KeywordSearch searches the engine, falling back to memory.
func (d *DualStore) KeywordSearch(ctx context.Context, text string, k int) ([]Hit, error) {
	if d.engine != nil {
		hits, err := d.engine.KeywordSearch(ctx, text, k)
		if err == nil {
			d.setActive(true)
			return hits, nil
		}
		d.degrade(ctx, OpKeywordSearch, err)
	}
	return d.memory.KeywordSearch(ctx, text, k)
}

// VectorSearch searches the engine, falling back to memory.
func (d *DualStore) VectorSearch(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if d.engine != nil {
		hits, err := d.engine.VectorSearch(ctx, vec, k)
		if err == nil {
			d.setActive(true)
			return hits, nil
		}
		d.degrade(ctx, OpVectorSearch, err)
	}
	return d.memory.VectorSearch(ctx, vec, k)
}

// Count counts engine chunks, falling back to memory.
func (d *DualStore) Count(ctx context.Context) (int64, error) {
	if d.engine != nil {
		n, err := d.engine.Count(ctx)
		if err == nil {
			d.setActive(true)
			return n, nil
		}
		d.degrade(ctx, OpCount, err)
	}
	return d.memory.Count(ctx)
}

// Close closes both backends.
func (d *DualStore) Close() error {
	var errs []error
	if d.engine != nil {
		errs = append(errs, d.engine.Close())
	}
	errs = append(errs, d.memory.Close())
	return errors.Join(errs...)
}
