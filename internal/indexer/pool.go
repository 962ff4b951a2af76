package indexer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/metrics"
)

// ProcessFunc handles one queued document.
type ProcessFunc func(ctx context.Context, docID int64) error

// Pool runs queued documents on a fixed number of workers. Each document runs on a
// single worker, so its stages are sequential.
type Pool struct {
	process ProcessFunc
	workers int
	jobs    chan int64
	logger  *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(process ProcessFunc, workers, queueSize int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		process: process,
		workers: max(workers, 1),
		jobs:    make(chan int64, max(queueSize, 1)),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for docID := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		if ctx.Err() != nil {
			continue
		}
		if err := p.process(ctx, docID); err != nil {
			p.logger.Debug("worker finished document with error",
				zap.Int("worker", id),
				zap.Int64("doc_id", docID),
				zap.Error(err))
		}
	}
}

// TryEnqueue queues docID without blocking. It returns ErrQueueFull when the queue is
// saturated and ErrStopped after Stop.
func (p *Pool) TryEnqueue(docID int64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- docID:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Enqueue queues docID, waiting for room until ctx ends or the pool stops.
func (p *Pool) Enqueue(ctx context.Context, docID int64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- docID:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	case <-p.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued documents.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Stop stops accepting work, lets workers finish the queue and waits for them. When
// ctx ends first, in-flight jobs are canceled and the rest of the queue is dropped.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	metrics.QueueDepth.Set(0)
}
