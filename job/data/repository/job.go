// Package repository stores job state in sql databases.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/metrics"
	"github.com/cyberkid042/distributed-job-queue/paging"
)

// timeLayout is RFC3339 with a fixed width fraction. Trailing zeros are
// kept so stored timestamps compare chronologically as text, which the
// stuck job scan and cursor paging rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ListParams narrows a job listing.
type ListParams struct {
	Status  string
	JobType string
	Cursor  string
	Limit   int
}

// JobRepository persists jobs and their execution results. The MarkX
// methods apply conditional transitions: they return false without an
// error when the job is no longer in a state the transition allows,
// so concurrent workers cannot double apply a transition.
type JobRepository interface {
	Create(ctx context.Context, job *structs.Job) error
	FindByID(ctx context.Context, id int64) (*structs.Job, error)
	FindByJobID(ctx context.Context, jobID string) (*structs.Job, error)
	List(ctx context.Context, params ListParams) ([]*structs.Job, error)
	Count(ctx context.Context, status, jobType string) (int, error)
	CountByStatus(ctx context.Context) (*structs.JobStats, error)

	MarkProcessing(ctx context.Context, jobID, workerID string) (bool, error)
	MarkCompleted(ctx context.Context, jobID string) (bool, error)
	MarkFailed(ctx context.Context, jobID, errorMessage string) (bool, error)
	CancelPending(ctx context.Context, jobID, errorMessage string) (bool, error)
	IncrementRetry(ctx context.Context, jobID string) (bool, error)
	FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*structs.Job, error)

	CreateResult(ctx context.Context, result *structs.JobResult) error
	ListResultsByJob(ctx context.Context, jobID int64) ([]*structs.JobResult, error)
}

type jobRepository struct {
	db        *sql.DB
	driver    string
	collector metrics.Collector
}

// NewJobRepository creates a repository on the given database and
// ensures the schema exists. Supported drivers are sqlite3, mysql and
// postgres.
func NewJobRepository(db *sql.DB, driver string, collector metrics.Collector) (JobRepository, error) {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	repo := &jobRepository{db: db, driver: normalizeDriver(driver), collector: collector}
	if err := repo.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func normalizeDriver(driver string) string {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return "sqlite3"
	}
}

// rebind converts ? placeholders to $n for postgres.
func (r *jobRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *jobRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	r.collector.DBQuery(time.Since(start), err)
	return res, err
}

func (r *jobRepository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	r.collector.DBQuery(time.Since(start), err)
	return rows, err
}

func (r *jobRepository) initSchema(ctx context.Context) error {
	var stmts []string
	switch r.driver {
	case "mysql":
		stmts = []string{`
			CREATE TABLE IF NOT EXISTS jobs (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				job_id VARCHAR(64) NOT NULL UNIQUE,
				job_type VARCHAR(255) NOT NULL,
				payload TEXT NOT NULL,
				status VARCHAR(16) NOT NULL,
				priority INT NOT NULL DEFAULT 0,
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 3,
				error_message TEXT,
				worker_id VARCHAR(64),
				created_at VARCHAR(40) NOT NULL,
				updated_at VARCHAR(40) NOT NULL,
				started_at VARCHAR(40),
				completed_at VARCHAR(40),
				INDEX idx_jobs_status (status),
				INDEX idx_jobs_type (job_type),
				INDEX idx_jobs_status_started (status, started_at),
				INDEX idx_jobs_created (created_at)
			)`, `
			CREATE TABLE IF NOT EXISTS job_results (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				job_id BIGINT NOT NULL,
				result TEXT,
				success INT NOT NULL DEFAULT 0,
				error_message TEXT,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				created_at VARCHAR(40) NOT NULL,
				INDEX idx_job_results_job (job_id)
			)`,
		}
	case "postgres":
		stmts = []string{`
			CREATE TABLE IF NOT EXISTS jobs (
				id BIGSERIAL PRIMARY KEY,
				job_id TEXT NOT NULL UNIQUE,
				job_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				error_message TEXT,
				worker_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				started_at TEXT,
				completed_at TEXT
			)`, `
			CREATE TABLE IF NOT EXISTS job_results (
				id BIGSERIAL PRIMARY KEY,
				job_id BIGINT NOT NULL,
				result TEXT,
				success INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(job_type)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON jobs(status, started_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id)`,
		}
	default:
		stmts = []string{`
			CREATE TABLE IF NOT EXISTS jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL UNIQUE,
				job_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				error_message TEXT,
				worker_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				started_at TEXT,
				completed_at TEXT
			)`, `
			CREATE TABLE IF NOT EXISTS job_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id INTEGER NOT NULL,
				result TEXT,
				success INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				execution_time_ms INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(job_type)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON jobs(status, started_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const jobColumns = `id, job_id, job_type, payload, status, priority, retry_count, max_retries,
		error_message, worker_id, created_at, updated_at, started_at, completed_at`

func (r *jobRepository) Create(ctx context.Context, job *structs.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}

	insert := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, priority, retry_count, max_retries,
			error_message, worker_id, created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		job.JobID,
		job.JobType,
		string(payloadJSON),
		string(job.Status),
		job.Priority,
		job.RetryCount,
		job.MaxRetries,
		job.ErrorMessage,
		job.WorkerID,
		job.CreatedAt.UTC().Format(timeLayout),
		job.UpdatedAt.UTC().Format(timeLayout),
		formatTime(job.StartedAt),
		formatTime(job.CompletedAt),
	}

	if r.driver == "postgres" {
		start := time.Now()
		err := r.db.QueryRowContext(ctx, r.rebind(insert+" RETURNING id"), args...).Scan(&job.ID)
		r.collector.DBQuery(time.Since(start), err)
		return err
	}

	res, err := r.exec(ctx, insert, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	job.ID = id
	return nil
}

func (r *jobRepository) FindByID(ctx context.Context, id int64) (*structs.Job, error) {
	rows, err := r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanJob(rows)
}

func (r *jobRepository) FindByJobID(ctx context.Context, jobID string) (*structs.Job, error) {
	rows, err := r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanJob(rows)
}

func (r *jobRepository) List(ctx context.Context, params ListParams) ([]*structs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var conds []string
	var args []any

	if params.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, params.Status)
	}
	if params.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, params.JobType)
	}
	if params.Cursor != "" {
		ts, id, err := paging.DecodeCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		conds = append(conds, "(created_at < ? OR (created_at = ? AND id < ?))")
		cursorTime := ts.UTC().Format(timeLayout)
		args = append(args, cursorTime, cursorTime, id)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *jobRepository) Count(ctx context.Context, status, jobType string) (int, error) {
	query := `SELECT COUNT(*) FROM jobs`
	var conds []string
	var args []any

	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if jobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, jobType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	start := time.Now()
	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	r.collector.DBQuery(time.Since(start), err)
	return count, err
}

func (r *jobRepository) CountByStatus(ctx context.Context) (*structs.JobStats, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &structs.JobStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch structs.JobStatus(status) {
		case structs.StatusPending:
			stats.Pending = count
		case structs.StatusProcessing:
			stats.Processing = count
		case structs.StatusCompleted:
			stats.Completed = count
		case structs.StatusFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// MarkProcessing claims a pending job for a worker. Returns false when
// the job is not PENDING anymore, which means another worker already
// claimed it or a terminal transition won.
func (r *jobRepository) MarkProcessing(ctx context.Context, jobID, workerID string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.exec(ctx, `
		UPDATE jobs
		SET status = ?, worker_id = ?, started_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(structs.StatusProcessing), workerID, now, now,
		jobID, string(structs.StatusPending),
	)
	return affected(res, err)
}

// MarkCompleted finishes a job. Only a PROCESSING job can complete.
func (r *jobRepository) MarkCompleted(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.exec(ctx, `
		UPDATE jobs
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(structs.StatusCompleted), now, now,
		jobID, string(structs.StatusProcessing),
	)
	return affected(res, err)
}

// MarkFailed fails a job that has not reached a terminal state yet.
func (r *jobRepository) MarkFailed(ctx context.Context, jobID, errorMessage string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.exec(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		string(structs.StatusFailed), errorMessage, now, now,
		jobID, string(structs.StatusPending), string(structs.StatusProcessing),
	)
	return affected(res, err)
}

// CancelPending fails a job that is still waiting in the queue.
func (r *jobRepository) CancelPending(ctx context.Context, jobID, errorMessage string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.exec(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(structs.StatusFailed), errorMessage, now, now,
		jobID, string(structs.StatusPending),
	)
	return affected(res, err)
}

// IncrementRetry re-queues a job for another attempt while budget
// remains. The job goes back to PENDING with the worker cleared;
// started_at stays on the record and is overwritten by the next claim.
// The guard keeps retries off COMPLETED jobs and off jobs that
// exhausted their budget.
func (r *jobRepository) IncrementRetry(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := r.exec(ctx, `
		UPDATE jobs
		SET status = ?, retry_count = retry_count + 1, worker_id = NULL, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?) AND retry_count < max_retries`,
		string(structs.StatusPending), now,
		jobID, string(structs.StatusProcessing), string(structs.StatusFailed),
	)
	return affected(res, err)
}

// FindStuck returns PROCESSING jobs whose run started before the
// cutoff, oldest first.
func (r *jobRepository) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*structs.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at ASC`
	args := []any{string(structs.StatusProcessing), cutoff.UTC().Format(timeLayout)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *jobRepository) CreateResult(ctx context.Context, result *structs.JobResult) error {
	resultJSON, err := json.Marshal(result.Result)
	if err != nil {
		return err
	}

	success := 0
	if result.Success {
		success = 1
	}

	insert := `
		INSERT INTO job_results (job_id, result, success, error_message, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{
		result.JobID,
		string(resultJSON),
		success,
		result.ErrorMessage,
		result.ExecutionTimeMs,
		result.CreatedAt.UTC().Format(timeLayout),
	}

	if r.driver == "postgres" {
		start := time.Now()
		err := r.db.QueryRowContext(ctx, r.rebind(insert+" RETURNING id"), args...).Scan(&result.ID)
		r.collector.DBQuery(time.Since(start), err)
		return err
	}

	res, err := r.exec(ctx, insert, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	result.ID = id
	return nil
}

func (r *jobRepository) ListResultsByJob(ctx context.Context, jobID int64) ([]*structs.JobResult, error) {
	rows, err := r.query(ctx, `
		SELECT id, job_id, result, success, error_message, execution_time_ms, created_at
		FROM job_results
		WHERE job_id = ?
		ORDER BY created_at DESC, id DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*structs.JobResult
	for rows.Next() {
		var resultJSON sql.NullString
		var success int
		var createdAt string

		res := &structs.JobResult{}
		if err := rows.Scan(
			&res.ID,
			&res.JobID,
			&resultJSON,
			&success,
			&res.ErrorMessage,
			&res.ExecutionTimeMs,
			&createdAt,
		); err != nil {
			return nil, err
		}

		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &res.Result); err != nil {
				return nil, err
			}
		}
		res.Success = success != 0

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		res.CreatedAt = parsed

		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*structs.Job, error) {
	var payloadJSON string
	var status string
	var errorMessage sql.NullString
	var workerID sql.NullString
	var createdAt string
	var updatedAt string
	var startedAt sql.NullString
	var completedAt sql.NullString

	j := &structs.Job{}
	if err := row.Scan(
		&j.ID,
		&j.JobID,
		&j.JobType,
		&payloadJSON,
		&status,
		&j.Priority,
		&j.RetryCount,
		&j.MaxRetries,
		&errorMessage,
		&workerID,
		&createdAt,
		&updatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &j.Payload); err != nil {
		return nil, err
	}

	j.Status = structs.JobStatus(status)
	j.ErrorMessage = errorMessage.String
	j.WorkerID = workerID.String

	parsedCreatedAt, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	parsedUpdatedAt, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}

	j.CreatedAt = parsedCreatedAt
	j.UpdatedAt = parsedUpdatedAt
	j.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	j.CompletedAt, err = parseTime(completedAt)
	if err != nil {
		return nil, err
	}

	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*structs.Job, error) {
	var jobs []*structs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func formatTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func parseTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil, fmt.Errorf("invalid time value: %w", err)
	}
	return &parsed, nil
}
