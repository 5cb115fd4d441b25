package inmemory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/jobs"
)

func newPendingJob(t *testing.T, s *Store, id, owner string) {
	t.Helper()
	err := s.CreateJob(context.Background(), &jobs.Job{
		ID:        id,
		CreatedBy: owner,
		Status:    jobs.JobStatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
}

func TestStore_TransitionStatusIsCompareAndSwap(t *testing.T) {
	s := NewStore()
	newPendingJob(t, s, "j1", "u1")

	const racers = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.TransitionStatus(context.Background(), "j1", jobs.JobStatusPending, jobs.JobStatusProcessing, time.Now()); err == nil {
				wins <- struct{}{}
			} else if !apperr.Is(err, apperr.KindConflict) {
				t.Errorf("Expected conflict for losing racer, got %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	if n := len(wins); n != 1 {
		t.Errorf("Expected exactly one winner, got %d", n)
	}

	job, _ := s.GetJob(context.Background(), "j1")
	if job.Status != jobs.JobStatusProcessing || job.ProcessingStartedAt == nil {
		t.Errorf("Expected PROCESSING with a start time, got %+v", job)
	}
}

func TestStore_FinalizeRequiresProcessing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newPendingJob(t, s, "j1", "u1")

	outcome := jobs.Outcome{Status: jobs.JobStatusCompleted, Total: 2, Succeeded: 2, CompletedAt: time.Now()}
	if err := s.Finalize(ctx, "j1", outcome); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Expected conflict finalizing a PENDING job, got %v", err)
	}

	_ = s.TransitionStatus(ctx, "j1", jobs.JobStatusPending, jobs.JobStatusProcessing, time.Now())
	if err := s.Finalize(ctx, "j1", outcome); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	job, _ := s.GetJob(ctx, "j1")
	if *job.TotalRecords != 2 || *job.SuccessfulRecords != 2 || *job.FailedRecords != 0 {
		t.Errorf("Unexpected counters: %d/%d/%d", *job.TotalRecords, *job.SuccessfulRecords, *job.FailedRecords)
	}

	// Counters are written exactly once.
	if err := s.Finalize(ctx, "j1", outcome); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected conflict on second finalize, got %v", err)
	}
}

func TestStore_MarkFailedLeavesTerminalJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newPendingJob(t, s, "j1", "u1")

	if err := s.MarkFailed(ctx, "j1", "boom", time.Now()); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := s.MarkFailed(ctx, "j1", "again", time.Now()); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected conflict, got %v", err)
	}
	job, _ := s.GetJob(ctx, "j1")
	if job.ErrorMessage != "boom" {
		t.Errorf("Terminal job was modified: %q", job.ErrorMessage)
	}
}

func TestStore_GetJobReturnsCopy(t *testing.T) {
	s := NewStore()
	newPendingJob(t, s, "j1", "u1")

	job, _ := s.GetJob(context.Background(), "j1")
	job.Status = jobs.JobStatusFailed

	again, _ := s.GetJob(context.Background(), "j1")
	if again.Status != jobs.JobStatusPending {
		t.Error("Mutating a returned job changed the stored job")
	}

	if _, err := s.GetJob(context.Background(), "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestStore_SaveResultIsIdempotentPerLine(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first := &jobs.CommandResult{JobID: "j1", LineNumber: 2, CommandType: "CREATE_EXPENSE", Status: jobs.CommandStatusFailed, ErrorMessage: "first"}
	second := &jobs.CommandResult{JobID: "j1", LineNumber: 2, CommandType: "CREATE_EXPENSE", Status: jobs.CommandStatusSuccess}
	other := &jobs.CommandResult{JobID: "j1", LineNumber: 1, CommandType: "CREATE_USER", Status: jobs.CommandStatusSuccess}

	for _, r := range []*jobs.CommandResult{first, second, other} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult() error = %v", err)
		}
	}

	results, _ := s.ListResults(ctx, "j1")
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].LineNumber != 1 || results[1].LineNumber != 2 {
		t.Errorf("Results not ordered by line: %d, %d", results[0].LineNumber, results[1].LineNumber)
	}
	if results[1].ErrorMessage != "first" {
		t.Errorf("Second save overwrote the first result")
	}
}

func TestStore_ListJobsFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	newPendingJob(t, s, "a", "u1")
	newPendingJob(t, s, "b", "u1")
	newPendingJob(t, s, "c", "u2")

	old := time.Now().Add(-time.Hour)
	_ = s.TransitionStatus(ctx, "a", jobs.JobStatusPending, jobs.JobStatusProcessing, old)

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   int
	}{
		{"all", jobs.JobFilter{}, 3},
		{"by owner", jobs.JobFilter{CreatedBy: "u1"}, 2},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusPending}, 2},
		{"stale processing", jobs.JobFilter{Status: jobs.JobStatusProcessing, StartedBefore: time.Now().Add(-time.Minute)}, 1},
		{"limit", jobs.JobFilter{Limit: 1}, 1},
		{"offset past end", jobs.JobFilter{Offset: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Expected %d jobs, got %d", tt.want, len(got))
			}
		})
	}
}
