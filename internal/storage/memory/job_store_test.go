package memory

import (
	"context"
	"testing"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scrape.Job{ID: "job-1", Status: scrape.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.StartJob(ctx, job.ID); err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if err := store.StartJob(ctx, job.ID); err == nil {
		t.Fatal("expected error starting a running job")
	}

	affected, err := store.FinishJob(ctx, job.ID, scrape.JobCounters{Attempts: 2, Retries: 1})
	if err != nil || !affected {
		t.Fatalf("FinishJob() = (%v, %v), want (true, nil)", affected, err)
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != scrape.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected terminal job with timestamps, got %+v", final)
	}
	if final.Counters.Attempts != 2 || final.Counters.Retries != 1 {
		t.Fatalf("expected counters to persist, got %+v", final.Counters)
	}
}

func TestJobStoreFinalizeNoopOnTerminal(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scrape.Job{ID: "job-1", Status: scrape.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if affected, err := store.FinishJob(ctx, job.ID, scrape.JobCounters{}); err != nil || !affected {
		t.Fatalf("FinishJob() = (%v, %v), want (true, nil)", affected, err)
	}
	// A second finalize of either kind reports zero rows affected, no error.
	if affected, err := store.FinishJob(ctx, job.ID, scrape.JobCounters{}); err != nil || affected {
		t.Fatalf("FinishJob() on terminal job = (%v, %v), want (false, nil)", affected, err)
	}
	affected, err := store.FailJob(ctx, job.ID, scrape.JobStatusFailed, "late", scrape.JobCounters{})
	if err != nil || affected {
		t.Fatalf("FailJob() on terminal job = (%v, %v), want (false, nil)", affected, err)
	}
}

func TestJobStoreFinalizeNoopOnMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	affected, err := store.FinishJob(context.Background(), "missing", scrape.JobCounters{})
	if err != nil || affected {
		t.Fatalf("FinishJob() on missing job = (%v, %v), want (false, nil)", affected, err)
	}
}

func TestJobStoreFailJobStatuses(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if err := store.CreateJob(ctx, scrape.Job{ID: "job-1", Status: scrape.JobStatusQueued}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if _, err := store.FailJob(ctx, "job-1", scrape.JobStatusRunning, "", scrape.JobCounters{}); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
	if _, err := store.FailJob(ctx, "job-1", scrape.JobStatusSucceeded, "", scrape.JobCounters{}); err == nil {
		t.Fatal("expected error for succeeded status via FailJob")
	}

	affected, err := store.FailJob(ctx, "job-1", scrape.JobStatusCancelled, "client disconnected", scrape.JobCounters{})
	if err != nil || !affected {
		t.Fatalf("FailJob() cancelled = (%v, %v), want (true, nil)", affected, err)
	}
	job, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != scrape.JobStatusCancelled || job.ErrorText != "client disconnected" {
		t.Fatalf("expected cancelled job with reason, got %+v", job)
	}
}
