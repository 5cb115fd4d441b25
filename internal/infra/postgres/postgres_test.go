package postgres

import (
	"context"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/notification"
	"github.com/google/uuid"
)

func TestBuildListQuery(t *testing.T) {
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    jobs.JobFilter
		wantWhere string
		wantTail  string
		wantArgs  []any
	}{
		{
			name:     "no filter",
			wantTail: "ORDER BY created_at DESC",
		},
		{
			name:      "owner with paging",
			filter:    jobs.JobFilter{CreatedBy: "u1", Limit: 10, Offset: 20},
			wantWhere: "WHERE created_by = $1",
			wantTail:  "ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			wantArgs:  []any{"u1", 10, 20},
		},
		{
			name:      "stale processing",
			filter:    jobs.JobFilter{Status: jobs.JobStatusProcessing, StartedBefore: before},
			wantWhere: "WHERE status = $1 AND processing_started_at < $2",
			wantTail:  "ORDER BY created_at DESC",
			wantArgs:  []any{"PROCESSING", before},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			if tt.wantWhere != "" && !strings.Contains(query, tt.wantWhere) {
				t.Errorf("query %q missing %q", query, tt.wantWhere)
			}
			if tt.wantWhere == "" && strings.Contains(query, "WHERE") {
				t.Errorf("unexpected WHERE in %q", query)
			}
			if !strings.HasSuffix(query, tt.wantTail) {
				t.Errorf("query %q does not end with %q", query, tt.wantTail)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".sql") {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

// TestJobStore_Postgres runs against SPLITLEDGER_TEST_DATABASE_URL with migrations applied.
func TestJobStore_Postgres(t *testing.T) {
	dsn := os.Getenv("SPLITLEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SPLITLEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	store := NewJobStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	if err := store.CreateJob(ctx, &jobs.Job{
		ID: id, FileName: "a.csv", StorageKey: "k", BucketName: "b",
		Status: jobs.JobStatusPending, CreatedBy: uuid.NewString(), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := store.TransitionStatus(ctx, id, jobs.JobStatusPending, jobs.JobStatusProcessing, now); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	err = store.TransitionStatus(ctx, id, jobs.JobStatusPending, jobs.JobStatusProcessing, now)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second transition: expected conflict, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.SaveResult(ctx, &jobs.CommandResult{JobID: id, CommandType: "CREATE_USER", LineNumber: 1, Status: jobs.CommandStatusSuccess, CreatedAt: now}); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	results, err := store.ListResults(ctx, id)
	if err != nil || len(results) != 1 {
		t.Fatalf("ListResults: %d results, err %v", len(results), err)
	}

	if err := store.Finalize(ctx, id, jobs.Outcome{Status: jobs.JobStatusCompleted, Total: 1, Succeeded: 1, CompletedAt: now}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := store.MarkFailed(ctx, id, "late", now); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("MarkFailed on terminal job: expected conflict, got %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != jobs.JobStatusCompleted || job.TotalRecords == nil || *job.TotalRecords != 1 || job.ErrorMessage != "" {
		t.Errorf("unexpected job: %+v", job)
	}

	if _, err := store.GetJob(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestNotificationLog_Postgres runs against SPLITLEDGER_TEST_DATABASE_URL with migrations applied.
func TestNotificationLog_Postgres(t *testing.T) {
	dsn := os.Getenv("SPLITLEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SPLITLEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	store := NewNotificationLog(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	first := &notification.LogEntry{
		ID: uuid.NewString(), EventID: uuid.NewString(), EventType: "csv.processing.completed",
		Recipient: "owner@example.com", Subject: "done", Status: notification.StatusPending, CreatedAt: now,
	}

	claimed, _, err := store.ClaimEntry(ctx, first, now.Add(-time.Minute))
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	second := *first
	second.ID = uuid.NewString()
	claimed, current, err := store.ClaimEntry(ctx, &second, now.Add(-time.Minute))
	if err != nil || claimed {
		t.Fatalf("duplicate claim = %v, %v", claimed, err)
	}
	if current == nil || current.Status != notification.StatusPending {
		t.Errorf("current entry = %+v", current)
	}

	first.Status = notification.StatusFailed
	if err := store.CompleteEntry(ctx, first); err != nil {
		t.Fatalf("CompleteEntry: %v", err)
	}
	if claimed, _, err := store.ClaimEntry(ctx, &second, now.Add(-time.Minute)); err != nil || !claimed {
		t.Fatalf("claim after failure = %v, %v", claimed, err)
	}

	second.Status = notification.StatusSuccess
	second.ProviderMessageID = "provider-1"
	if err := store.CompleteEntry(ctx, &second); err != nil {
		t.Fatalf("CompleteEntry: %v", err)
	}
	got, err := store.FindEntry(ctx, first.EventID, first.EventType, first.Recipient)
	if err != nil || got == nil || got.Status != notification.StatusSuccess || got.ProviderMessageID != "provider-1" {
		t.Errorf("FindEntry = %+v, %v", got, err)
	}
}
