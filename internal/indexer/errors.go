package indexer

import (
	"context"
	"errors"
)

var (
	// ErrExtraction means no text could be recovered from the file after every fallback.
	ErrExtraction = errors.New("no extractable text")
	// ErrNoChunks means the text produced no chunk that passed the quality filters.
	ErrNoChunks = errors.New("no chunks produced")
	// ErrQueueFull is returned by TryEnqueue when the worker queue is saturated.
	ErrQueueFull = errors.New("pipeline queue is full")
	// ErrStopped is returned when enqueueing after the pool shut down.
	ErrStopped = errors.New("pipeline is stopped")
)

// IsRetryable reports whether a failed attempt should be retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrExtraction), errors.Is(err, ErrNoChunks):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}
