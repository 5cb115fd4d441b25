package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// RunRecorder writes job runs to a BigQuery table and reads them back.
type RunRecorder struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	tableID   string
}

// NewRunRecorder creates a recorder writing to projectID.datasetID.tableID.
func NewRunRecorder(ctx context.Context, projectID, datasetID, tableID string) (*RunRecorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunRecorder: bigquery client: %w", err)
	}
	if tableID == "" {
		tableID = DefaultRunsTable
	}
	return &RunRecorder{client: client, projectID: projectID, datasetID: datasetID, tableID: tableID}, nil
}

// EnsureTable creates the runs table when it does not exist.
func (r *RunRecorder) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(JobRunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	table := r.client.Dataset(r.datasetID).Table(r.tableID)
	err = table.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "finished_ts",
		},
	})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("EnsureTable: creating %s.%s: %w", r.datasetID, r.tableID, err)
	}
	return nil
}

// RecordRun implements pipeline.RunRecorder.
func (r *RunRecorder) RecordRun(ctx context.Context, run pipeline.Run) error {
	inserter := r.client.Dataset(r.datasetID).Table(r.tableID).Inserter()
	if err := inserter.Put(ctx, newJobRunRow(run)); err != nil {
		return fmt.Errorf("RecordRun: inserting %s: %w", run.JobID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally for one owner.
func (r *RunRecorder) ListRuns(ctx context.Context, createdBy string, limit int) ([]*JobRunRow, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT
			job_id,
			created_by,
			file_name,
			status,
			total_records,
			successful_records,
			failed_records,
			unaccounted_records,
			stream_fault,
			started_ts,
			finished_ts,
			duration_ms
		FROM `+"`%s.%s.%s`"+`
		WHERE (@created_by = "" OR created_by = @created_by)
		ORDER BY finished_ts DESC
		LIMIT @limit
	`, r.projectID, r.datasetID, r.tableID)

	q := r.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "created_by", Value: createdBy},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: reading query: %w", err)
	}

	var runs []*JobRunRow
	for {
		var row JobRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iterating: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

// Close releases the BigQuery client.
func (r *RunRecorder) Close() error {
	return r.client.Close()
}

var _ pipeline.RunRecorder = (*RunRecorder)(nil)
