// Package finalize wraps the durable write of a job's terminal state with
// bounded retry and linear backoff. It is independent of cancellation: a
// finalize in progress runs to completion or exhaustion, never early-cancel.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/metrics"
)

// Action names the terminal transition being persisted.
type Action string

// Finalization actions.
const (
	ActionFinish Action = "finish"
	ActionFail   Action = "fail"
)

// ErrNoRowsAffected is the synthetic cause when every attempt was a no-op
// write (job missing or already terminal) rather than a store error.
var ErrNoRowsAffected = errors.New("zero rows affected")

// FailedError means the job's true outcome is unrecorded after all attempts.
// Callers must surface it to operators, not drop it.
type FailedError struct {
	Action   Action
	JobID    string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	return fmt.Sprintf(
		"finalize %s for job %s failed after %d attempts: %v",
		e.Action, e.JobID, e.Attempts, e.Err,
	)
}

// Unwrap exposes the last underlying error.
func (e *FailedError) Unwrap() error {
	return e.Err
}

// PerformFunc executes the terminal-state write. The bool reports whether the
// write actually changed the job's state; false is a no-op write.
type PerformFunc func(ctx context.Context) (bool, error)

// Options tunes the retry loop. Zero values take the defaults: 3 attempts,
// alert threshold equal to MaxAttempts, 50ms backoff base.
type Options struct {
	MaxAttempts    int
	AlertThreshold int
	BackoffBase    time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 50 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.AlertThreshold <= 0 || o.AlertThreshold > o.MaxAttempts {
		o.AlertThreshold = o.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	return o
}

// WithRetry attempts perform up to MaxAttempts times, waiting BackoffBase
// multiplied by the attempt number between tries. Reaching AlertThreshold
// emits an error-severity log as an operational alert but does not stop the
// loop. After exhaustion it returns a *FailedError carrying the last error,
// or ErrNoRowsAffected when every failure was a no-op write.
func WithRetry(
	ctx context.Context,
	action Action,
	perform PerformFunc,
	jobID string,
	logger *zap.Logger,
	opts Options,
) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		affected, err := perform(ctx)
		if err == nil && affected {
			metrics.ObserveFinalizeAttempt(string(action), true)
			logger.Info("job finalized",
				zap.String("job_id", jobID),
				zap.String("action", string(action)),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		metrics.ObserveFinalizeAttempt(string(action), false)

		lastErr = err
		if lastErr == nil {
			lastErr = ErrNoRowsAffected
		}
		logger.Warn("finalize attempt failed",
			zap.String("job_id", jobID),
			zap.String("action", string(action)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Error(lastErr),
		)
		if attempt >= opts.AlertThreshold {
			logger.Error("finalize attempts reached alert threshold",
				zap.String("job_id", jobID),
				zap.String("action", string(action)),
				zap.Int("attempt", attempt),
				zap.Int("threshold", opts.AlertThreshold),
			)
		}
		if attempt < opts.MaxAttempts {
			time.Sleep(opts.BackoffBase * time.Duration(attempt))
		}
	}

	metrics.ObserveFinalizeFailure(string(action))
	logger.Error("finalize failed after retries",
		zap.String("job_id", jobID),
		zap.String("action", string(action)),
		zap.Int("attempts", opts.MaxAttempts),
		zap.Error(lastErr),
	)
	return &FailedError{
		Action:   action,
		JobID:    jobID,
		Attempts: opts.MaxAttempts,
		Err:      lastErr,
	}
}
