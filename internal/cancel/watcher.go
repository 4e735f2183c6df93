package cancel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/metrics"
)

const defaultPollInterval = time.Second

// Watcher polls the shared store for a job's cancellation record and turns it
// into a local Token. It moves Polling -> Detected on a positive poll (no
// further polling) and Polling -> Stopped on Stop. Poll read failures only
// delay detection by one interval; they never crash the worker.
type Watcher struct {
	jobID    string
	store    *Store
	token    *Token
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher starts a Watcher for the job. The first poll is scheduled
// immediately; subsequent polls run at the given interval (default 1s).
func NewWatcher(jobID string, store *Store, logger *zap.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		jobID:    jobID,
		store:    store,
		token:    NewToken(),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Token returns the local cancellation token driven by this watcher.
func (w *Watcher) Token() *Token {
	return w.token
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		// Bound each store read so a hung store cannot wedge the loop.
		pollCtx, cancel := context.WithTimeout(context.Background(), w.interval)
		detected := w.poll(pollCtx)
		cancel()
		if detected {
			return
		}
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// poll returns true once the record is detected.
func (w *Watcher) poll(ctx context.Context) bool {
	cancelled, err := w.store.IsCancelled(ctx, w.jobID)
	if err != nil {
		w.logger.Debug("cancellation poll failed",
			zap.String("job_id", w.jobID),
			zap.Error(err),
		)
		return false
	}
	if !cancelled {
		return false
	}
	w.detect(ctx)
	return true
}

func (w *Watcher) detect(ctx context.Context) {
	reason, err := w.store.Reason(ctx, w.jobID)
	if err != nil {
		w.logger.Debug("cancellation reason fetch failed",
			zap.String("job_id", w.jobID),
			zap.Error(err),
		)
	}
	w.token.Signal(reason)
	metrics.ObserveCancellationDetected()
	w.logger.Info("cancellation detected",
		zap.String("job_id", w.jobID),
		zap.String("reason", reason),
	)
}

// Check is callable synchronously at any suspension point of the executing
// code. It returns a *CancelledError if the local token is signalled, and
// otherwise performs one fresh store read to cover the gap between poll
// intervals. Store read failures are swallowed: a missing answer means "not
// yet known to be cancelled".
func (w *Watcher) Check(ctx context.Context) error {
	if w.token.Signalled() {
		return &CancelledError{JobID: w.jobID, Reason: w.token.Reason()}
	}
	cancelled, err := w.store.IsCancelled(ctx, w.jobID)
	if err != nil {
		w.logger.Debug("cancellation check failed",
			zap.String("job_id", w.jobID),
			zap.Error(err),
		)
		return nil
	}
	if !cancelled {
		return nil
	}
	w.detect(ctx)
	return &CancelledError{JobID: w.jobID, Reason: w.token.Reason()}
}

// Stop idempotently halts polling. It is safe to call multiple times and
// from within listener callbacks; it does not block on an in-flight poll.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Wait blocks until the polling goroutine has exited. Test helper.
func (w *Watcher) Wait() {
	<-w.doneCh
}
