package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/jobs"
)

type resultKey struct {
	jobID string
	line  int
}

// Store is an in-memory implementation of JobStore and ResultStore.
// It is safe for concurrent use. Data is lost on restart; use the Postgres
// store for persistence.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobs.Job
	results map[resultKey]*jobs.CommandResult
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*jobs.Job),
		results: make(map[resultKey]*jobs.CommandResult),
	}
}

// CreateJob implements the JobStore interface.
func (s *Store) CreateJob(ctx context.Context, job *jobs.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperr.Conflict("Job %s already exists", job.ID)
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, apperr.NotFound("Job with ID %s not found.", jobID)
	}
	return copyJob(job), nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.Job
	for _, job := range s.jobs {
		if filter.CreatedBy != "" && job.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.StartedBefore.IsZero() &&
			(job.ProcessingStartedAt == nil || !job.ProcessingStartedAt.Before(filter.StartedBefore)) {
			continue
		}
		result = append(result, copyJob(job))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Job{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// TransitionStatus implements the JobStore interface.
func (s *Store) TransitionStatus(ctx context.Context, jobID string, from, to jobs.JobStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return apperr.NotFound("Job with ID %s not found.", jobID)
	}
	if job.Status != from {
		return apperr.Conflict("Job %s is %s, expected %s", jobID, job.Status, from)
	}

	job.Status = to
	job.UpdatedAt = at
	if to == jobs.JobStatusProcessing {
		started := at
		job.ProcessingStartedAt = &started
	}
	return nil
}

// Finalize implements the JobStore interface.
func (s *Store) Finalize(ctx context.Context, jobID string, outcome jobs.Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finalize: %s is not a terminal status", outcome.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return apperr.NotFound("Job with ID %s not found.", jobID)
	}
	if job.Status != jobs.JobStatusProcessing {
		return apperr.Conflict("Job %s is %s, expected %s", jobID, job.Status, jobs.JobStatusProcessing)
	}

	total, succeeded, failed := outcome.Total, outcome.Succeeded, outcome.Failed
	completed := outcome.CompletedAt
	job.Status = outcome.Status
	job.TotalRecords = &total
	job.SuccessfulRecords = &succeeded
	job.FailedRecords = &failed
	job.ErrorMessage = outcome.ErrorMessage
	job.CompletedAt = &completed
	job.UpdatedAt = completed
	return nil
}

// MarkFailed implements the JobStore interface.
func (s *Store) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return apperr.NotFound("Job with ID %s not found.", jobID)
	}
	if job.Status.IsTerminal() {
		return apperr.Conflict("Job %s is already %s", jobID, job.Status)
	}

	completed := at
	job.Status = jobs.JobStatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &completed
	job.UpdatedAt = at
	return nil
}

// SaveResult implements the ResultStore interface.
func (s *Store) SaveResult(ctx context.Context, result *jobs.CommandResult) error {
	if result.JobID == "" || result.LineNumber < 1 {
		return fmt.Errorf("result requires a job ID and a positive line number")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := resultKey{jobID: result.JobID, line: result.LineNumber}
	if _, exists := s.results[key]; exists {
		return nil
	}
	resultCopy := *result
	s.results[key] = &resultCopy
	return nil
}

// ListResults implements the ResultStore interface.
func (s *Store) ListResults(ctx context.Context, jobID string) ([]*jobs.CommandResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.CommandResult
	for key, r := range s.results {
		if key.jobID != jobID {
			continue
		}
		resultCopy := *r
		out = append(out, &resultCopy)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LineNumber < out[j].LineNumber
	})
	return out, nil
}

// copyJob returns a deep copy so callers cannot mutate stored state.
func copyJob(job *jobs.Job) *jobs.Job {
	c := *job
	c.TotalRecords = copyInt(job.TotalRecords)
	c.SuccessfulRecords = copyInt(job.SuccessfulRecords)
	c.FailedRecords = copyInt(job.FailedRecords)
	c.ProcessingStartedAt = copyTime(job.ProcessingStartedAt)
	c.CompletedAt = copyTime(job.CompletedAt)
	return &c
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ensure Store implements the store interfaces.
var _ jobs.JobStore = (*Store)(nil)
var _ jobs.ResultStore = (*Store)(nil)
