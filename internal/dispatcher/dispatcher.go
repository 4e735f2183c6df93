// Package dispatcher fans queued jobs out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/scrape"
	"github.com/jmagar/pulse-sub012/internal/worker"
)

// Dispatcher owns the queue handle and the worker pool.
type Dispatcher struct {
	queue   scrape.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New builds a Dispatcher over the queue and workers.
func New(queue scrape.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, logger: logger}
}

// Run starts every worker and blocks until all of them have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// Enqueue submits a job for execution.
func (d *Dispatcher) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Remove best-effort drops a queued job, typically on cancellation.
func (d *Dispatcher) Remove(ctx context.Context, jobID string) error {
	if err := d.queue.Remove(ctx, jobID); err != nil {
		return fmt.Errorf("queue remove: %w", err)
	}
	return nil
}
