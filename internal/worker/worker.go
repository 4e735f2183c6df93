// Package worker executes queued scrape jobs: it runs the attempt loop with
// retry budget accounting, watches for cross-process cancellation, and
// persists the terminal state through the finalization retrier.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/cancel"
	"github.com/jmagar/pulse-sub012/internal/finalize"
	"github.com/jmagar/pulse-sub012/internal/metrics"
	"github.com/jmagar/pulse-sub012/internal/retry"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Limiter extends the cancellation-side removal contract with the add
// operations the worker needs to claim slots.
type Limiter interface {
	scrape.Limiter
	AddActiveJob(ctx context.Context, teamID, jobID string) error
	AddCrawlActiveJob(ctx context.Context, crawlID, jobID string) error
}

// Config wires a Worker's collaborators and tuning knobs.
type Config struct {
	ID          int
	Queue       scrape.Queue
	Store       scrape.JobStore
	Fetcher     scrape.Fetcher
	Cancel      *cancel.Store
	Limiter     Limiter
	Publisher   scrape.Publisher
	Clock       scrape.Clock
	Logger      *zap.Logger
	RetryBudget retry.Config
	Finalize    finalize.Options

	// MaxAttempts bounds the fetch loop independently of the retry budget.
	MaxAttempts int
	// BackoffBase is multiplied by the attempt number between fetches.
	BackoffBase time.Duration
	// PollInterval is the cancellation watcher interval.
	PollInterval time.Duration

	EventTopic string
	AlertTopic string
}

// Worker consumes the queue until its context is done or the queue closes.
type Worker struct {
	cfg    Config
	logger *zap.Logger
}

// CompletionEvent is published to the event topic at each terminal state.
type CompletionEvent struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts"`
	Retries    int    `json:"retries"`
	FinishedAt int64  `json:"finished_at"`
}

// FinalizeAlert is published to the alert topic when a job's terminal state
// could not be persisted and its true outcome is unrecorded.
type FinalizeAlert struct {
	JobID    string `json:"job_id"`
	Action   string `json:"action"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// New builds a Worker from the given configuration.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With(zap.Int("worker_id", cfg.ID)),
	}
}

// Run consumes jobs until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("worker stopping", zap.Error(err))
			}
			return
		}
		w.process(ctx, item)
	}
}

// outcome is the decided terminal state, finalized after the attempt loop.
type outcome struct {
	status  scrape.JobStatus
	errText string
}

func (w *Worker) process(ctx context.Context, item scrape.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID))
	identity := item.Params.Identity(item.JobID)

	if identity.TeamID != "" {
		if err := w.cfg.Limiter.RemoveQueuedJob(ctx, identity.TeamID, item.JobID); err != nil {
			logger.Warn("queued slot release failed", zap.Error(err))
		}
		if err := w.cfg.Limiter.AddActiveJob(ctx, identity.TeamID, item.JobID); err != nil {
			logger.Warn("active slot claim failed", zap.Error(err))
		}
	}
	if identity.CrawlID != "" {
		if err := w.cfg.Limiter.AddCrawlActiveJob(ctx, identity.CrawlID, item.JobID); err != nil {
			logger.Warn("crawl slot claim failed", zap.Error(err))
		}
	}
	defer w.releaseSlots(identity, logger)

	// A record written while the job sat in the queue means it never runs.
	if cancelled, err := w.cfg.Cancel.IsCancelled(ctx, item.JobID); err == nil && cancelled {
		reason, _ := w.cfg.Cancel.Reason(ctx, item.JobID)
		logger.Info("job cancelled before start", zap.String("reason", reason))
		w.finalize(ctx, item, scrape.JobCounters{}, outcome{
			status:  scrape.JobStatusCancelled,
			errText: reason,
		}, logger)
		return
	}

	if err := w.cfg.Store.StartJob(ctx, item.JobID); err != nil {
		logger.Warn("job start rejected", zap.Error(err))
		return
	}

	watcher := cancel.NewWatcher(item.JobID, w.cfg.Cancel, logger, w.cfg.PollInterval)
	defer watcher.Stop()

	tracker := retry.NewTracker(item.JobID, w.cfg.RetryBudget, logger)

	counters := scrape.JobCounters{}
	result := w.attemptLoop(ctx, item, watcher, tracker, &counters, logger)
	w.finalize(ctx, item, counters, result, logger)
}

func (w *Worker) attemptLoop(
	ctx context.Context,
	item scrape.QueueItem,
	watcher *cancel.Watcher,
	tracker *retry.Tracker,
	counters *scrape.JobCounters,
	logger *zap.Logger,
) outcome {
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := watcher.Check(ctx); err != nil {
			return cancelledOutcome(err)
		}

		counters.Attempts++
		resp, err := w.cfg.Fetcher.Fetch(ctx, scrape.FetchRequest{
			JobID:   item.JobID,
			URL:     item.Params.URL,
			Attempt: attempt,
		})
		if err == nil {
			logger.Info("fetch succeeded",
				zap.Int("attempt", attempt),
				zap.Int("status_code", resp.StatusCode),
				zap.Duration("duration", resp.Duration),
			)
			return outcome{status: scrape.JobStatusSucceeded}
		}

		// The fetch may have failed because cancellation landed mid-flight.
		if cerr := watcher.Check(ctx); cerr != nil {
			return cancelledOutcome(cerr)
		}

		var retryable *scrape.RetryableError
		if !errors.As(err, &retryable) {
			logger.Warn("fetch failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return outcome{status: scrape.JobStatusFailed, errText: err.Error()}
		}

		counters.Retries++
		if recordErr := tracker.Record(retryable.Category, retryable); recordErr != nil {
			return outcome{status: scrape.JobStatusFailed, errText: recordErr.Error()}
		}
		logger.Debug("fetch attempt will retry",
			zap.Int("attempt", attempt),
			zap.String("category", string(retryable.Category)),
			zap.Error(retryable),
		)

		if attempt == w.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(w.cfg.BackoffBase * time.Duration(attempt))
		select {
		case <-watcher.Token().Done():
			timer.Stop()
			return outcome{
				status:  scrape.JobStatusCancelled,
				errText: watcher.Token().Reason(),
			}
		case <-ctx.Done():
			timer.Stop()
			return outcome{status: scrape.JobStatusFailed, errText: ctx.Err().Error()}
		case <-timer.C:
		}
	}
	return outcome{status: scrape.JobStatusFailed, errText: "max attempts exhausted"}
}

// finalize persists the terminal state and publishes the completion event.
// It runs detached from ctx: an in-flight shutdown or cancellation must not
// abort the durable write.
func (w *Worker) finalize(
	ctx context.Context,
	item scrape.QueueItem,
	counters scrape.JobCounters,
	result outcome,
	logger *zap.Logger,
) {
	fctx := context.WithoutCancel(ctx)

	action := finalize.ActionFail
	perform := func(ctx context.Context) (bool, error) {
		return w.cfg.Store.FailJob(ctx, item.JobID, result.status, result.errText, counters)
	}
	if result.status == scrape.JobStatusSucceeded {
		action = finalize.ActionFinish
		perform = func(ctx context.Context) (bool, error) {
			return w.cfg.Store.FinishJob(ctx, item.JobID, counters)
		}
	}

	if err := finalize.WithRetry(fctx, action, perform, item.JobID, logger, w.cfg.Finalize); err != nil {
		var failed *finalize.FailedError
		if errors.As(err, &failed) {
			w.publishAlert(fctx, failed, logger)
		}
	}

	metrics.ObserveJob(string(result.status))
	w.publishEvent(fctx, item.JobID, counters, result, logger)
}

func (w *Worker) publishEvent(
	ctx context.Context,
	jobID string,
	counters scrape.JobCounters,
	result outcome,
	logger *zap.Logger,
) {
	if w.cfg.Publisher == nil || w.cfg.EventTopic == "" {
		return
	}
	event := CompletionEvent{
		JobID:      jobID,
		Status:     string(result.status),
		Error:      result.errText,
		Attempts:   counters.Attempts,
		Retries:    counters.Retries,
		FinishedAt: w.now().Unix(),
	}
	if _, err := w.cfg.Publisher.Publish(ctx, w.cfg.EventTopic, event); err != nil {
		logger.Warn("completion event publish failed",
			zap.String("topic", w.cfg.EventTopic),
			zap.Error(err),
		)
	}
}

func (w *Worker) publishAlert(ctx context.Context, failed *finalize.FailedError, logger *zap.Logger) {
	if w.cfg.Publisher == nil || w.cfg.AlertTopic == "" {
		return
	}
	alert := FinalizeAlert{
		JobID:    failed.JobID,
		Action:   string(failed.Action),
		Attempts: failed.Attempts,
		Error:    failed.Error(),
	}
	if _, err := w.cfg.Publisher.Publish(ctx, w.cfg.AlertTopic, alert); err != nil {
		logger.Error("finalize alert publish failed",
			zap.String("topic", w.cfg.AlertTopic),
			zap.Error(err),
		)
	}
}

func (w *Worker) releaseSlots(identity scrape.Identity, logger *zap.Logger) {
	ctx := context.Background()
	if identity.TeamID != "" {
		if err := w.cfg.Limiter.RemoveActiveJob(ctx, identity.TeamID, identity.JobID); err != nil {
			logger.Warn("active slot release failed", zap.Error(err))
		}
	}
	if identity.CrawlID != "" {
		if err := w.cfg.Limiter.RemoveCrawlActiveJob(ctx, identity.CrawlID, identity.JobID); err != nil {
			logger.Warn("crawl slot release failed", zap.Error(err))
		}
	}
}

func (w *Worker) now() time.Time {
	if w.cfg.Clock != nil {
		return w.cfg.Clock.Now()
	}
	return time.Now().UTC()
}

func cancelledOutcome(err error) outcome {
	var cerr *cancel.CancelledError
	if errors.As(err, &cerr) {
		return outcome{status: scrape.JobStatusCancelled, errText: cerr.Reason}
	}
	return outcome{status: scrape.JobStatusCancelled, errText: err.Error()}
}
