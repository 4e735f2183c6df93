// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists scrape jobs in Postgres. Terminal transitions report the
// rows-affected count so the finalization retrier can distinguish a durable
// write from a no-op.
type JobStore struct {
	pool  execQuerier
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool execQuerier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a job row in queued status.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, status, url, team_id, crawl_id, submitted_at, attempts, retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.Parameters.URL,
		job.Parameters.TeamID,
		job.Parameters.CrawlID,
		job.Submitted,
		job.Counters.Attempts,
		job.Counters.Retries,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// StartJob transitions a queued job to running.
func (s *JobStore) StartJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s
		SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(scrape.JobStatusRunning), string(scrape.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("job is not queued")
	}
	return nil
}

// FinishJob marks a job succeeded and reports whether a row changed.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, counters scrape.JobCounters) (bool, error) {
	return s.complete(ctx, jobID, scrape.JobStatusSucceeded, "", counters)
}

// FailJob marks a job failed or cancelled and reports whether a row changed.
func (s *JobStore) FailJob(
	ctx context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	counters scrape.JobCounters,
) (bool, error) {
	if !status.Terminal() || status == scrape.JobStatusSucceeded {
		return false, errors.New("status must be failed or cancelled")
	}
	return s.complete(ctx, jobID, status, errText, counters)
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	query := fmt.Sprintf(`SELECT id, status, url, team_id, crawl_id,
		submitted_at, started_at, finished_at, error_text, attempts, retries
		FROM %s WHERE id = $1`, s.table)
	var (
		job     scrape.Job
		status  string
		errText *string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Parameters.URL,
		&job.Parameters.TeamID,
		&job.Parameters.CrawlID,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&errText,
		&job.Counters.Attempts,
		&job.Counters.Retries,
	)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	return job, nil
}

func (s *JobStore) complete(
	ctx context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	counters scrape.JobCounters,
) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s
		SET status = $2, error_text = $3, attempts = $4, retries = $5, finished_at = NOW()
		WHERE id = $1 AND status IN ($6, $7)`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(status),
		errText,
		counters.Attempts,
		counters.Retries,
		string(scrape.JobStatusQueued),
		string(scrape.JobStatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
