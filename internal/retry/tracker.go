// Package retry implements the per-job retry budget tracker.
package retry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jmagar/pulse-sub012/internal/metrics"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Config bounds how many retries a single job may consume. Categories absent
// from CapPerCategory are bounded only by GlobalCap. A cap of zero is legal
// and means no retries of that category at all.
type Config struct {
	GlobalCap      int
	CapPerCategory map[scrape.RetryCategory]int
}

// Stats is a snapshot of the counters at the moment a limit was crossed.
type Stats struct {
	Total      int
	ByCategory map[scrape.RetryCategory]int
}

// LimitExceededError is returned once any cap is crossed. It carries the
// triggering category and a snapshot of all counters.
type LimitExceededError struct {
	JobID    string
	Category scrape.RetryCategory
	Stats    Stats
	Cause    error
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf(
		"retry limit exceeded for job %s (category %s, total %d)",
		e.JobID, e.Category, e.Stats.Total,
	)
}

// Unwrap exposes the attempt failure that triggered the limit.
func (e *LimitExceededError) Unwrap() error {
	return e.Cause
}

// Tracker accounts retries for one job's attempt sequence. It is created when
// the sequence begins and discarded at the terminal state; nothing is
// persisted, so a process restart resets the budget.
type Tracker struct {
	mu        sync.Mutex
	jobID     string
	cfg       Config
	counts    map[scrape.RetryCategory]int
	total     int
	exhausted bool
	logger    *zap.Logger
}

// NewTracker builds a Tracker for one job.
func NewTracker(jobID string, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		jobID:  jobID,
		cfg:    cfg,
		counts: make(map[scrape.RetryCategory]int),
		logger: logger,
	}
}

// Record accounts one genuine retry of the given category. It returns a
// *LimitExceededError when the category cap or the global cap is crossed;
// once that has happened every further call fails, regardless of category.
func (t *Tracker) Record(category scrape.RetryCategory, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhausted {
		return t.exceeded(category, cause)
	}

	t.counts[category]++
	t.total++
	metrics.ObserveRetry(string(category))

	limit, capped := t.cfg.CapPerCategory[category]
	if (capped && t.counts[category] > limit) || t.total > t.cfg.GlobalCap {
		t.exhausted = true
		return t.exceeded(category, cause)
	}
	return nil
}

func (t *Tracker) exceeded(category scrape.RetryCategory, cause error) error {
	snapshot := t.snapshot()
	t.logger.Error("retry budget exhausted",
		zap.String("job_id", t.jobID),
		zap.String("category", string(category)),
		zap.Int("total", snapshot.Total),
		zap.Error(cause),
	)
	metrics.ObserveRetryExhausted(string(category))
	return &LimitExceededError{
		JobID:    t.jobID,
		Category: category,
		Stats:    snapshot,
		Cause:    cause,
	}
}

func (t *Tracker) snapshot() Stats {
	by := make(map[scrape.RetryCategory]int, len(t.counts))
	for k, v := range t.counts {
		by[k] = v
	}
	return Stats{Total: t.total, ByCategory: by}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}
