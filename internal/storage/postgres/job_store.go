// Package postgres provides the Postgres-backed JobStore used in
// production deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagefinder/pagefinder/internal/crawl"
)

// Postgres error codes the store reacts to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore persists jobs and results in Postgres.
type JobStore struct {
	pool dbPool
}

// NewJobStore connects a pgx pool using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing with pgxmock).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// EnsureSchema creates the jobs and results tables and their indexes if
// they do not exist yet.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS crawl_jobs (
			id UUID PRIMARY KEY,
			input_url TEXT NOT NULL,
			keyword TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed')),
			engine_job_ref TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			failure_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS crawl_results (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES crawl_jobs(id) ON DELETE CASCADE,
			page_url TEXT NOT NULL,
			page_title TEXT,
			snippet TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (job_id, page_url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_created_at ON crawl_jobs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_results_job_id ON crawl_results(job_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawl.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, input_url, keyword, status, engine_job_ref, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		job.ID, job.InputURL, job.Keyword, string(job.Status), job.EngineJobRef, job.CreatedAt,
	)
	if err != nil {
		if isPgErr(err, pgUniqueViolation) {
			return crawl.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawl.Job, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, input_url, keyword, status, COALESCE(engine_job_ref, ''), created_at, completed_at, COALESCE(failure_reason, '')
FROM crawl_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Job{}, crawl.ErrNotFound
		}
		return crawl.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus advances the job status with a compare-and-set that only
// touches non-terminal rows, so concurrent late writers cannot regress a
// finished job.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawl.JobStatus,
	failureReason string,
	completedAt *time.Time,
) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs
SET status = $2,
	failure_reason = CASE WHEN $2 = 'failed' THEN NULLIF($3, '') ELSE failure_reason END,
	completed_at = COALESCE(completed_at, $4)
WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, string(status), failureReason, completedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Zero rows means either an unknown id or an already-terminal job.
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// SetEngineJobRef records the engine identifier; the column is write-once.
func (s *JobStore) SetEngineJobRef(ctx context.Context, jobID, engineJobRef string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET engine_job_ref = $2 WHERE id = $1 AND engine_job_ref IS NULL`,
		jobID, engineJobRef,
	)
	if err != nil {
		return fmt.Errorf("set engine job ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// UpsertResult inserts a result row; conflicts on (job_id, page_url) are
// silently skipped so engine re-delivery stays idempotent.
func (s *JobStore) UpsertResult(ctx context.Context, result crawl.Result) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO crawl_results (job_id, page_url, page_title, snippet, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
ON CONFLICT (job_id, page_url) DO NOTHING`,
		result.JobID, result.PageURL, result.PageTitle, result.Snippet, result.CreatedAt,
	)
	if err != nil {
		if isPgErr(err, pgForeignKeyViolation) {
			return false, crawl.ErrNotFound
		}
		return false, fmt.Errorf("insert result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListResults returns a job's results, oldest first.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]crawl.Result, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, job_id, page_url, COALESCE(page_title, ''), snippet, created_at
FROM crawl_results WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	var out []crawl.Result
	for rows.Next() {
		var r crawl.Result
		if err := rows.Scan(&r.ID, &r.JobID, &r.PageURL, &r.PageTitle, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// ListActiveJobs returns all non-terminal jobs, oldest first. The driver
// uses it for its startup recovery scan.
func (s *JobStore) ListActiveJobs(ctx context.Context) ([]crawl.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, input_url, keyword, status, COALESCE(engine_job_ref, ''), created_at, completed_at, COALESCE(failure_reason, '')
FROM crawl_jobs WHERE status IN ('pending', 'running') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select active jobs: %w", err)
	}
	defer rows.Close()

	var out []crawl.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// DeleteJob removes a job; results cascade via the foreign key.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}

// Ping verifies database connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (crawl.Job, error) {
	var (
		job    crawl.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.InputURL,
		&job.Keyword,
		&status,
		&job.EngineJobRef,
		&job.CreatedAt,
		&job.CompletedAt,
		&job.FailureReason,
	); err != nil {
		return crawl.Job{}, err
	}
	job.Status = crawl.JobStatus(status)
	return job, nil
}

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
