package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "scrape_jobs")
	require.NoError(t, err)
	return store, mock
}

func TestJobStoreRejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE jobs")
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := scrape.Job{
		ID:        "job-1",
		Status:    scrape.JobStatusQueued,
		Submitted: now,
		Parameters: scrape.JobParameters{
			URL:     "https://example.com",
			TeamID:  "team-a",
			CrawlID: "crawl-x",
		},
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "queued", "https://example.com", "team-a", "crawl-x", now, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartJobRequiresQueuedRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "running", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.StartJob(context.Background(), "job-1"))

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-2", "running", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.StartJob(context.Background(), "job-2")
	require.EqualError(t, err, "job is not queued")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobReportsRowsAffected(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	counters := scrape.JobCounters{Attempts: 3, Retries: 2}

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "succeeded", "", 3, 2, "queued", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	affected, err := store.FinishJob(context.Background(), "job-1", counters)
	require.NoError(t, err)
	require.True(t, affected)

	// Already-terminal row: the guarded update touches nothing.
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "succeeded", "", 3, 2, "queued", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	affected, err = store.FinishJob(context.Background(), "job-1", counters)
	require.NoError(t, err)
	require.False(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJobCancelledStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "cancelled", "client disconnected", 1, 0, "queued", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	affected, err := store.FailJob(
		context.Background(),
		"job-1",
		scrape.JobStatusCancelled,
		"client disconnected",
		scrape.JobCounters{Attempts: 1},
	)
	require.NoError(t, err)
	require.True(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJobRejectsInvalidStatus(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)

	_, err := store.FailJob(context.Background(), "job-1", scrape.JobStatusRunning, "", scrape.JobCounters{})
	require.Error(t, err)
	_, err = store.FailJob(context.Background(), "job-1", scrape.JobStatusSucceeded, "", scrape.JobCounters{})
	require.Error(t, err)
}

func TestFinishJobPropagatesStoreError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "succeeded", "", 0, 0, "queued", "running").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FinishJob(context.Background(), "job-1", scrape.JobCounters{})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	started := submitted.Add(time.Second)
	finished := submitted.Add(2 * time.Second)
	errText := "boom"

	rows := pgxmock.NewRows([]string{
		"id", "status", "url", "team_id", "crawl_id",
		"submitted_at", "started_at", "finished_at", "error_text", "attempts", "retries",
	}).AddRow(
		"job-1", "failed", "https://example.com", "team-a", "crawl-x",
		submitted, &started, &finished, &errText, 4, 3,
	)
	mock.ExpectQuery("SELECT id, status, url").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Equal(t, "https://example.com", job.Parameters.URL)
	require.Equal(t, "boom", job.ErrorText)
	require.Equal(t, 4, job.Counters.Attempts)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}
