// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Queue is a bounded in-memory queue with context-aware operations. Removal
// is tombstone-based: a removed job stays in the channel but is dropped at
// dequeue time, matching the best-effort contract (a job a worker already
// holds cannot be removed).
type Queue struct {
	ch      chan scrape.QueueItem
	mu      sync.Mutex
	removed map[string]struct{}
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan scrape.QueueItem, capacity),
		removed: make(map[string]struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next live job, respecting context cancellation. Removed
// jobs are skipped and their tombstones released.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	for {
		select {
		case <-ctx.Done():
			return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case item, ok := <-q.ch:
			if !ok {
				return scrape.QueueItem{}, errors.New("queue closed")
			}
			if q.consumeTombstone(item.JobID) {
				continue
			}
			return item, nil
		}
	}
}

// Remove marks a queued job so it is dropped at dequeue time. It never fails:
// removing a job that is absent or already executing is a no-op.
func (q *Queue) Remove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed[jobID] = struct{}{}
	return nil
}

func (q *Queue) consumeTombstone(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.removed[jobID]; ok {
		delete(q.removed, jobID)
		return true
	}
	return false
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
