// Package bigquery records finished CSV job runs in BigQuery for reporting.
package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/splitledger/internal/pipeline"
)

// DefaultRunsTable is the table holding one row per finished job.
const DefaultRunsTable = "csv_job_runs"

// maxFaultLen bounds the stored stream fault message.
const maxFaultLen = 2000

// JobRunRow is one finished job.
type JobRunRow struct {
	JobID       string    `bigquery:"job_id"`     // REQUIRED
	CreatedBy   string    `bigquery:"created_by"` // REQUIRED
	FileName    string    `bigquery:"file_name"`
	Status      string    `bigquery:"status"` // REQUIRED
	Total       int64     `bigquery:"total_records"`
	Succeeded   int64     `bigquery:"successful_records"`
	Failed      int64     `bigquery:"failed_records"`
	Unaccounted int64     `bigquery:"unaccounted_records"`
	StreamFault string    `bigquery:"stream_fault"`
	StartedTS   time.Time `bigquery:"started_ts"`

	FinishedTS time.Time          `bigquery:"finished_ts"` // REQUIRED
	DurationMS bigquery.NullInt64 `bigquery:"duration_ms"` // NULLABLE
}

func newJobRunRow(run pipeline.Run) *JobRunRow {
	fault := run.StreamFault
	if len(fault) > maxFaultLen {
		fault = fault[:maxFaultLen]
	}

	row := &JobRunRow{
		JobID:       run.JobID,
		CreatedBy:   run.CreatedBy,
		FileName:    run.FileName,
		Status:      string(run.Status),
		Total:       int64(run.Total),
		Succeeded:   int64(run.Succeeded),
		Failed:      int64(run.Failed),
		Unaccounted: int64(run.Unaccounted),
		StreamFault: fault,
		StartedTS:   run.StartedAt,
		FinishedTS:  run.CompletedAt,
	}
	if !run.StartedAt.IsZero() && !run.CompletedAt.Before(run.StartedAt) {
		row.DurationMS = bigquery.NullInt64{Int64: run.CompletedAt.Sub(run.StartedAt).Milliseconds(), Valid: true}
	}
	return row
}
