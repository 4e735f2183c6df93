package cancel

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Signal is the API-side local cancellation signal, owned by the HTTP layer
// and typically derived from client disconnect. *Token satisfies it.
type Signal interface {
	Signalled() bool
	OnSignal(fn func(reason string)) (remove func())
}

// Canceller runs the API-side cancel sequence: write the cancellation record,
// then best-effort remove the job from the queue and from concurrency-limit
// bookkeeping. Queue and Limiter may be nil.
type Canceller struct {
	Store   *Store
	Queue   scrape.Queue
	Limiter scrape.Limiter
	Logger  *zap.Logger
}

// Cancel executes the cancel sequence for the job. Every sub-step is
// best-effort: a failure is logged and the remaining steps still run, because
// cancellation must not become a second point of failure.
func (c *Canceller) Cancel(ctx context.Context, job scrape.Identity, reason string) {
	logger := c.logger()
	if err := c.Store.Mark(ctx, job.JobID, reason); err != nil {
		logger.Warn("cancellation mark failed",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
	}
	if c.Queue != nil {
		if err := c.Queue.Remove(ctx, job.JobID); err != nil {
			logger.Warn("queue removal failed",
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
		}
	}
	if c.Limiter != nil && job.TeamID != "" {
		if err := c.Limiter.RemoveActiveJob(ctx, job.TeamID, job.JobID); err != nil {
			logger.Warn("active job cleanup failed",
				zap.String("job_id", job.JobID),
				zap.String("team_id", job.TeamID),
				zap.Error(err),
			)
		}
		if err := c.Limiter.RemoveQueuedJob(ctx, job.TeamID, job.JobID); err != nil {
			logger.Warn("queued job cleanup failed",
				zap.String("job_id", job.JobID),
				zap.String("team_id", job.TeamID),
				zap.Error(err),
			)
		}
	}
	if c.Limiter != nil && job.CrawlID != "" {
		if err := c.Limiter.RemoveCrawlActiveJob(ctx, job.CrawlID, job.JobID); err != nil {
			logger.Warn("crawl job cleanup failed",
				zap.String("job_id", job.JobID),
				zap.String("crawl_id", job.CrawlID),
				zap.Error(err),
			)
		}
	}
}

// Bind ties the local signal to the job: if the signal is already set the
// cancel sequence runs synchronously before Bind returns (the client may have
// disconnected while submission was still pending); otherwise a one-shot
// listener runs it on signal. The atomic guard makes the inevitable
// double-fire race safe. The returned unbind detaches the listener without
// cancelling and must be called when the job completes normally.
func (c *Canceller) Bind(sig Signal, job scrape.Identity, reason string) (unbind func()) {
	var cancelled atomic.Bool
	fire := func(string) {
		if !cancelled.CompareAndSwap(false, true) {
			return
		}
		c.Cancel(context.Background(), job, reason)
	}

	if sig.Signalled() {
		fire("")
		return func() {}
	}
	return sig.OnSignal(fire)
}

func (c *Canceller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
