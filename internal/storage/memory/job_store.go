// Package memory provides an in-memory job store for development/testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// JobStore keeps job metadata in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]scrape.Job),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// StartJob transitions a queued job to running.
func (s *JobStore) StartJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if job.Status != scrape.JobStatusQueued {
		return errors.New("job is not queued")
	}
	job.Status = scrape.JobStatusRunning
	now := time.Now().UTC()
	job.Started = pointerTime(now)
	s.jobs[jobID] = job
	return nil
}

// FinishJob marks a job succeeded. It reports false without error when the
// job is missing or already terminal, mirroring a zero-rows-affected update.
func (s *JobStore) FinishJob(_ context.Context, jobID string, counters scrape.JobCounters) (bool, error) {
	return s.complete(jobID, scrape.JobStatusSucceeded, "", counters)
}

// FailJob marks a job failed or cancelled. Same no-op semantics as FinishJob.
func (s *JobStore) FailJob(
	_ context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	counters scrape.JobCounters,
) (bool, error) {
	if !status.Terminal() || status == scrape.JobStatusSucceeded {
		return false, errors.New("status must be failed or cancelled")
	}
	return s.complete(jobID, status, errText, counters)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, errors.New("job not found")
	}
	return job, nil
}

func (s *JobStore) complete(jobID string, status scrape.JobStatus, errText string, counters scrape.JobCounters) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	job.Finished = pointerTime(time.Now().UTC())
	s.jobs[jobID] = job
	return true, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
