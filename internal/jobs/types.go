// Package jobs defines bulk upload jobs, their per-row results and the stores that persist them.
package jobs

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a bulk job.
type JobStatus string

const (
	// JobStatusPending indicates the job was created and awaits upload confirmation.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusProcessing indicates a worker owns the job and is streaming rows.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates every row succeeded.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusCompletedWithErrors indicates some rows failed or were not accounted for.
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	// JobStatusFailed indicates every row failed or the job could not be processed.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing:
		return true
	}
	return s.IsTerminal()
}

// Job is one uploaded CSV file and its processing state.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`

	// FileName is the name supplied by the uploader.
	FileName string `json:"fileName"`

	// StorageKey is the object key of the uploaded file.
	StorageKey string `json:"s3Key"`

	// BucketName is the bucket holding the uploaded file.
	BucketName string `json:"bucketName"`

	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`

	// CreatedBy is the owner. Commands in the file act as this user.
	CreatedBy string `json:"createdBy"`

	// TotalRecords, SuccessfulRecords and FailedRecords stay nil until finalization.
	TotalRecords      *int `json:"totalRecords"`
	SuccessfulRecords *int `json:"processedRecords"`
	FailedRecords     *int `json:"failedRecords"`

	// ErrorMessage summarizes failures, if any.
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

// CommandStatus is the outcome of a single row.
type CommandStatus string

const (
	CommandStatusSuccess CommandStatus = "SUCCESS"
	CommandStatusFailed  CommandStatus = "FAILED"
)

// UnknownCommandType tags results of rows whose command type could not be resolved.
const UnknownCommandType = "UNKNOWN_COMMAND_TYPE"

// CommandResult records the outcome of one data row.
// At most one result exists per (JobID, LineNumber).
type CommandResult struct {
	JobID        string        `json:"jobId"`
	CommandType  string        `json:"commandType"`
	LineNumber   int           `json:"lineNumber"`
	Status       CommandStatus `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Outcome is written once when a job reaches a terminal state.
type Outcome struct {
	Status       JobStatus
	Total        int
	Succeeded    int
	Failed       int
	ErrorMessage string
	CompletedAt  time.Time
}

// JobStore persists jobs.
//
// Implementations return apperr NotFound for unknown IDs and apperr Conflict
// when a conditional transition finds the job in a different state.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// TransitionStatus atomically moves a job from one status to another.
	// Moving to PROCESSING also records the processing start time.
	TransitionStatus(ctx context.Context, jobID string, from, to JobStatus, at time.Time) error

	// Finalize moves a PROCESSING job to a terminal state and sets its counters.
	Finalize(ctx context.Context, jobID string, outcome Outcome) error

	// MarkFailed forces a non-terminal job to FAILED. Terminal jobs are left untouched
	// and reported as a conflict.
	MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error
}

// ResultStore persists per-row command results.
type ResultStore interface {
	// SaveResult stores a result. Saving a second result for the same
	// (JobID, LineNumber) is a no-op.
	SaveResult(ctx context.Context, result *CommandResult) error

	// ListResults returns a job's results ordered by line number.
	ListResults(ctx context.Context, jobID string) ([]*CommandResult, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// CreatedBy filters jobs by owner.
	CreatedBy string

	// Status filters jobs by status.
	Status JobStatus

	// StartedBefore keeps jobs whose processing started before this instant.
	StartedBefore time.Time

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
