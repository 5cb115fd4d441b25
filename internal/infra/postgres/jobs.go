package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, file_name, storage_key, bucket_name, status, created_by,
	total_records, successful_records, failed_records, COALESCE(error_message, ''),
	created_at, updated_at, processing_started_at, completed_at`

// JobStore implements jobs.JobStore and jobs.ResultStore.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// CreateJob implements jobs.JobStore.
func (s *JobStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO csv_jobs (id, file_name, storage_key, bucket_name, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.FileName, job.StorageKey, job.BucketName, job.Status, job.CreatedBy, job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("Job with ID %s already exists.", job.ID)
	}
	if err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// GetJob implements jobs.JobStore.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM csv_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Job with ID %s not found.", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	return job, nil
}

// ListJobs implements jobs.JobStore.
func (s *JobStore) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	query, args := buildListQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListJobs: scanning: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	return out, nil
}

func buildListQuery(filter jobs.JobFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CreatedBy != "" {
		where = append(where, "created_by = "+arg(filter.CreatedBy))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if !filter.StartedBefore.IsZero() {
		where = append(where, "processing_started_at < "+arg(filter.StartedBefore))
	}

	var b strings.Builder
	b.WriteString("SELECT " + jobColumns + " FROM csv_jobs")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}
	return b.String(), args
}

// TransitionStatus implements jobs.JobStore as a conditional UPDATE.
func (s *JobStore) TransitionStatus(ctx context.Context, jobID string, from, to jobs.JobStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE csv_jobs
		SET status = $3,
		    updated_at = $4,
		    processing_started_at = CASE WHEN $3 = 'PROCESSING' THEN $4 ELSE processing_started_at END
		WHERE id = $1 AND status = $2`,
		jobID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("TransitionStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, jobID, fmt.Sprintf("expected %s", from))
	}
	return nil
}

// Finalize implements jobs.JobStore.
func (s *JobStore) Finalize(ctx context.Context, jobID string, outcome jobs.Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("Finalize: %s is not a terminal status", outcome.Status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE csv_jobs
		SET status = $2,
		    total_records = $3,
		    successful_records = $4,
		    failed_records = $5,
		    error_message = NULLIF($6, ''),
		    completed_at = $7,
		    updated_at = $7
		WHERE id = $1 AND status = 'PROCESSING'`,
		jobID, string(outcome.Status), outcome.Total, outcome.Succeeded, outcome.Failed, outcome.ErrorMessage, outcome.CompletedAt)
	if err != nil {
		return fmt.Errorf("Finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, jobID, "expected PROCESSING")
	}
	return nil
}

// MarkFailed implements jobs.JobStore.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE csv_jobs
		SET status = 'FAILED', error_message = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')`,
		jobID, message, at)
	if err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, jobID, "already terminal")
	}
	return nil
}

// explainMiss turns a zero-row conditional update into NotFound or Conflict.
func (s *JobStore) explainMiss(ctx context.Context, jobID, expectation string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM csv_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Job with ID %s not found.", jobID)
	}
	if err != nil {
		return fmt.Errorf("reading status of %s: %w", jobID, err)
	}
	return apperr.Conflict("Job %s is %s, %s", jobID, status, expectation)
}

// SaveResult implements jobs.ResultStore. A second result for the same line is ignored.
func (s *JobStore) SaveResult(ctx context.Context, result *jobs.CommandResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO csv_command_results (job_id, line_number, command_type, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (job_id, line_number) DO NOTHING`,
		result.JobID, result.LineNumber, result.CommandType, string(result.Status), result.ErrorMessage, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("SaveResult: %w", err)
	}
	return nil
}

// ListResults implements jobs.ResultStore.
func (s *JobStore) ListResults(ctx context.Context, jobID string) ([]*jobs.CommandResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, command_type, line_number, status, COALESCE(error_message, ''), created_at
		FROM csv_command_results
		WHERE job_id = $1
		ORDER BY line_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("ListResults: %w", err)
	}
	defer rows.Close()

	var out []*jobs.CommandResult
	for rows.Next() {
		var r jobs.CommandResult
		var status string
		if err := rows.Scan(&r.JobID, &r.CommandType, &r.LineNumber, &status, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListResults: scanning: %w", err)
		}
		r.Status = jobs.CommandStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListResults: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var job jobs.Job
	var status string
	err := row.Scan(
		&job.ID, &job.FileName, &job.StorageKey, &job.BucketName, &status, &job.CreatedBy,
		&job.TotalRecords, &job.SuccessfulRecords, &job.FailedRecords, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.ProcessingStartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = jobs.JobStatus(status)
	return &job, nil
}

var (
	_ jobs.JobStore    = (*JobStore)(nil)
	_ jobs.ResultStore = (*JobStore)(nil)
)
