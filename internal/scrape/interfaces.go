package scrape

import (
	"context"
	"time"
)

// KV is the narrow contract over the shared key/value store. It is the only
// resource shared between the API and worker processes.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// JobStore persists job metadata. FinishJob and FailJob report whether the
// write changed a row: false means the job is missing or already terminal,
// which the finalization retrier treats as an unsuccessful attempt.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	FinishJob(ctx context.Context, jobID string, counters JobCounters) (bool, error)
	FailJob(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) (bool, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs. Remove is
// best-effort: it may miss a job that a worker has already dequeued.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Remove(ctx context.Context, jobID string) error
}

// Limiter maintains per-team and per-crawl concurrency bookkeeping. Each
// removal is independently best-effort.
type Limiter interface {
	RemoveActiveJob(ctx context.Context, teamID, jobID string) error
	RemoveQueuedJob(ctx context.Context, teamID, jobID string) error
	RemoveCrawlActiveJob(ctx context.Context, crawlID, jobID string) error
}

// Fetcher executes the actual page fetch. Implementations live outside this
// subsystem; they signal retryable failures with *RetryableError and are
// expected to honor context cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Publisher pushes completion events and operator alerts to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
