package indexer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestPool_ProcessesQueuedDocuments(t *testing.T) {
	var mu sync.Mutex
	var seen []int64
	p := NewPool(func(ctx context.Context, id int64) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	}, 3, 10, nil)
	p.Start(context.Background())

	for id := int64(1); id <= 5; id++ {
		if err := p.Enqueue(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	p.Stop(context.Background())

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	if len(seen) != 5 || seen[0] != 1 || seen[4] != 5 {
		t.Errorf("processed %v, want 1..5", seen)
	}
}

func TestPool_TryEnqueueFull(t *testing.T) {
	p := NewPool(func(ctx context.Context, id int64) error { return nil }, 1, 1, nil)
	if err := p.TryEnqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := p.TryEnqueue(2); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("queue length = %d, want 1", p.Len())
	}
}

func TestPool_EnqueueWaitsForContext(t *testing.T) {
	p := NewPool(func(ctx context.Context, id int64) error { return nil }, 1, 1, nil)
	_ = p.TryEnqueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Enqueue(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPool_StoppedRejectsWork(t *testing.T) {
	p := NewPool(func(ctx context.Context, id int64) error { return nil }, 1, 1, nil)
	p.Start(context.Background())
	p.Stop(context.Background())
	p.Stop(context.Background())

	if err := p.TryEnqueue(1); !errors.Is(err, ErrStopped) {
		t.Errorf("TryEnqueue after stop = %v, want ErrStopped", err)
	}
	if err := p.Enqueue(context.Background(), 1); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue after stop = %v, want ErrStopped", err)
	}
}

func TestPool_StopUnblocksWaitingEnqueue(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(func(ctx context.Context, id int64) error {
		<-release
		return nil
	}, 1, 1, nil)
	p.Start(context.Background())
	_ = p.Enqueue(context.Background(), 1)

	// Wait until the worker holds job 1 so the queue slot is free again, then fill it.
	deadline := time.Now().Add(time.Second)
	for p.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = p.TryEnqueue(2)

	errc := make(chan error, 1)
	go func() { errc <- p.Enqueue(context.Background(), 3) }()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop(context.Background())
		close(stopped)
	}()
	if err := <-errc; !errors.Is(err, ErrStopped) {
		t.Errorf("blocked Enqueue returned %v, want ErrStopped", err)
	}
	close(release)
	<-stopped
}

func TestPool_StopContextCancelsJobs(t *testing.T) {
	started := make(chan struct{})
	p := NewPool(func(ctx context.Context, id int64) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, 1, 1, nil)
	p.Start(context.Background())
	_ = p.TryEnqueue(1)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p.Stop(ctx)
}
