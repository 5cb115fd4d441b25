package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/dvloznov/splitledger/internal/commands"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/jobs"
)

// BlobStore reads uploaded files and issues upload URLs.
type BlobStore interface {
	// Open streams an object. The caller closes the reader.
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// PresignPut returns a URL that accepts a single PUT of the object.
	PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
}

// CommandDispatcher executes one CSV row. Implementations never panic.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, record commands.Record, jobID, userID string, line int) commands.Result
}

// UserFinder resolves job owners for completion emails.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
}

// Run is the analytics record of one finished job.
type Run struct {
	JobID       string
	CreatedBy   string
	FileName    string
	Status      jobs.JobStatus
	Total       int
	Succeeded   int
	Failed      int
	Unaccounted int
	StreamFault string
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunRecorder stores finished runs for reporting.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}
