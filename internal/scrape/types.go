// Package scrape defines core types shared across subsystems.
package scrape

import (
	"fmt"
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// RetryCategory classifies why a fetch attempt needs to be retried.
// The set is closed for accounting purposes: each category carries its own
// retry cap in addition to the per-job global cap.
type RetryCategory string

// Known retry categories.
const (
	CategoryAddFeature    RetryCategory = "add_feature"
	CategoryRemoveFeature RetryCategory = "remove_feature"
	CategoryPDFPrefetch   RetryCategory = "pdf_prefetch"
	CategoryDocPrefetch   RetryCategory = "doc_prefetch"
)

// Identity names a job for retry/cancellation accounting. TeamID and CrawlID
// are only used to clean up concurrency-limit bookkeeping, never for identity.
type Identity struct {
	JobID   string
	TeamID  string
	CrawlID string
}

// JobParameters captures per-job configuration requested by the client.
type JobParameters struct {
	URL     string            `json:"url"`
	TeamID  string            `json:"team_id,omitempty"`
	CrawlID string            `json:"crawl_id,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Identity derives the accounting identity for a queued job.
func (p JobParameters) Identity(jobID string) Identity {
	return Identity{JobID: jobID, TeamID: p.TeamID, CrawlID: p.CrawlID}
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks attempt stats per job.
type JobCounters struct {
	Attempts int `json:"attempts"`
	Retries  int `json:"retries"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Attempt int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RetryableError marks a fetch failure that may be retried, classified by
// category so the retry budget tracker can account for it.
type RetryableError struct {
	Category RetryCategory
	Err      error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable %s: %v", e.Category, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a retryable failure of the given category.
func Retryable(category RetryCategory, err error) *RetryableError {
	return &RetryableError{Category: category, Err: err}
}
