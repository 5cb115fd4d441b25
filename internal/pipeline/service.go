// Package pipeline runs bulk CSV jobs: upload initiation, confirmation,
// row processing and finalization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// CSVContentType is the content type required on upload.
	CSVContentType = "text/csv"

	defaultListLimit = 20
	maxListLimit     = 100
)

// Config holds pipeline settings.
type Config struct {
	// Bucket receives uploaded files.
	Bucket string
	// UploadPrefix is the first segment of every storage key.
	UploadPrefix string
	// PresignTTL is how long an upload URL stays valid.
	PresignTTL time.Duration
}

// DefaultConfig returns the default pipeline settings for bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:       bucket,
		UploadPrefix: "csv-uploads",
		PresignTTL:   time.Hour,
	}
}

// Dependencies are the collaborators of a Service. Recorder may be nil.
type Dependencies struct {
	Jobs       jobs.JobStore
	Results    jobs.ResultStore
	Blobs      BlobStore
	Dispatcher CommandDispatcher
	Producer   events.Producer
	Users      UserFinder
	Recorder   RunRecorder
}

// Service manages the lifecycle of bulk CSV jobs.
type Service struct {
	cfg        Config
	jobs       jobs.JobStore
	results    jobs.ResultStore
	blobs      BlobStore
	producer   events.Producer
	users      UserFinder
	recorder   RunRecorder
	rows       *RowProcessor
	processing *Pipeline
	announce   Step
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates a pipeline service.
func NewService(cfg Config, deps Dependencies, log zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		jobs:     deps.Jobs,
		results:  deps.Results,
		blobs:    deps.Blobs,
		producer: deps.Producer,
		users:    deps.Users,
		recorder: deps.Recorder,
		rows:     NewRowProcessor(deps.Dispatcher, deps.Results, deps.Producer, log),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.processing = NewProcessingPipeline(s)
	s.announce = &announceStep{s}
	return s
}

// UploadResult is returned to the client that starts an upload.
type UploadResult struct {
	JobID        string `json:"jobId"`
	PresignedURL string `json:"presignedUrl"`
	StorageKey   string `json:"s3Key"`
	ExpiresIn    int    `json:"expiresIn"`
}

// StatusView is a job with its row results.
type StatusView struct {
	Job            *jobs.Job             `json:"job"`
	CommandResults []*jobs.CommandResult `json:"commandResults"`
}

// StorageKey returns the object key for a user's upload.
func (s *Service) StorageKey(userID, jobID string) string {
	return path.Join(s.cfg.UploadPrefix, userID, jobID+".csv")
}

// InitiateUpload creates a PENDING job and a presigned URL to upload its file.
func (s *Service) InitiateUpload(ctx context.Context, fileName, userID string) (*UploadResult, error) {
	fileName = strings.TrimSpace(fileName)
	userID = strings.TrimSpace(userID)
	if fileName == "" {
		return nil, apperr.BadRequest("fileName is required.")
	}
	if userID == "" {
		return nil, apperr.BadRequest("requestingUserId is required.")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, apperr.BadRequest("requestingUserId must be a valid UUID.")
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return nil, apperr.BadRequest("Invalid file type. Only .csv files are allowed.")
	}

	now := s.now()
	jobID := uuid.NewString()
	job := &jobs.Job{
		ID:         jobID,
		FileName:   fileName,
		StorageKey: s.StorageKey(userID, jobID),
		BucketName: s.cfg.Bucket,
		Status:     jobs.JobStatusPending,
		CreatedBy:  userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("InitiateUpload: creating job: %w", err)
	}

	url, err := s.blobs.PresignPut(ctx, job.BucketName, job.StorageKey, CSVContentType, s.cfg.PresignTTL)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to generate presigned URL")
		return nil, apperr.Wrap(apperr.KindInternal, err, "Could not generate upload URL.")
	}

	s.log.Info().Str("job_id", jobID).Str("user_id", userID).Str("s3_key", job.StorageKey).Msg("Upload initiated")
	return &UploadResult{
		JobID:        jobID,
		PresignedURL: url,
		StorageKey:   job.StorageKey,
		ExpiresIn:    int(s.cfg.PresignTTL.Seconds()),
	}, nil
}

// ConfirmUploadAndInitiateProcessing queues a PENDING job for processing.
// The job stays PENDING until a worker claims it.
func (s *Service) ConfirmUploadAndInitiateProcessing(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobs.JobStatusPending {
		return apperr.Conflict("Job %s is not in PENDING state (current: %s).", job.ID, job.Status)
	}

	payload := events.ProcessingStarted{
		JobID:      job.ID,
		UserID:     job.CreatedBy,
		StorageKey: job.StorageKey,
		BucketName: job.BucketName,
	}
	msgID, err := s.producer.Send(ctx, events.TopicProcessingStarted, payload, map[string]string{events.AttrJobID: job.ID})
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to queue job")
		return apperr.Wrap(apperr.KindInternal, err, "Failed to queue job for processing.")
	}

	s.log.Info().Str("job_id", job.ID).Str("message_id", msgID).Msg("Job queued for processing")
	return nil
}

// ProcessFileFromEvent processes the file of a started job.
//
// Guard failures (unknown job, foreign owner, job still PROCESSING) are returned
// without touching the job. Once claimed, any error forces the job to FAILED.
// A job that already finished is not processed again; its completion is
// announced again instead, so a delivery whose announcement failed can recover.
func (s *Service) ProcessFileFromEvent(ctx context.Context, p events.ProcessingStarted) error {
	state := &State{Event: p}
	defer func() {
		if state.File != nil {
			if err := state.File.Close(); err != nil {
				s.log.Warn().Err(err).Str("job_id", p.JobID).Msg("Failed to close CSV file")
			}
		}
	}()

	err := s.processing.Execute(ctx, state)
	if err == nil {
		return nil
	}
	if errors.Is(err, errAlreadyFinished) {
		s.log.Info().
			Str("job_id", state.Job.ID).
			Str("status", string(state.Job.Status)).
			Msg("Job already finished, announcing completion again")
		if err := s.announce.Execute(ctx, state); err != nil {
			return fmt.Errorf("%s: %w", s.announce.Name(), err)
		}
		return nil
	}

	if state.Claimed && !state.Finalized {
		s.failJob(ctx, p.JobID, err)
	}
	return err
}

func (s *Service) failJob(ctx context.Context, jobID string, cause error) {
	msg := fmt.Sprintf("Job processing failed: %v", cause)
	if err := s.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, msg, s.now()); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job as failed")
		return
	}
	s.log.Error().Err(cause).Str("job_id", jobID).Msg("Job marked as failed")
}

// GetJobStatus returns a job and its row results.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*StatusView, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("GetJobStatus: listing results: %w", err)
	}
	if results == nil {
		results = []*jobs.CommandResult{}
	}
	return &StatusView{Job: job, CommandResults: results}, nil
}

// ListJobs returns a user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	if filter.CreatedBy == "" {
		return nil, apperr.BadRequest("userId is required.")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.BadRequest("Invalid status %q.", filter.Status)
	}
	if filter.Offset < 0 {
		return nil, apperr.BadRequest("offset must not be negative.")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	list, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: %w", err)
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	return list, nil
}

// HandleCompletedEvent emails the job owner a summary of a finished job.
func (s *Service) HandleCompletedEvent(ctx context.Context, p events.ProcessingCompleted) error {
	job, err := s.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return apperr.Conflict("Job %s has not finished (current: %s).", job.ID, job.Status)
	}

	user, err := s.users.FindUserByID(ctx, job.CreatedBy)
	if errors.Is(err, ledger.ErrNotFound) {
		return apperr.NotFound("Owner %s of job %s not found.", job.CreatedBy, job.ID)
	}
	if err != nil {
		return fmt.Errorf("HandleCompletedEvent: looking up owner: %w", err)
	}

	subject, body := completionEmail(job)
	_, err = s.producer.Send(ctx, events.TopicNotificationSend, events.NotificationSend{
		EventID:        job.ID,
		EventType:      string(events.TopicProcessingCompleted),
		RecipientEmail: user.Email,
		Subject:        subject,
		Body:           body,
	}, map[string]string{events.AttrJobID: job.ID})
	if err != nil {
		return fmt.Errorf("HandleCompletedEvent: requesting notification: %w", err)
	}

	s.log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Completion notification requested")
	return nil
}

// HandlePersistFailed retries storing a row result reported on the persist-failed topic.
func (s *Service) HandlePersistFailed(ctx context.Context, p events.CommandResultPersistFailed) error {
	result := &jobs.CommandResult{
		JobID:        p.JobID,
		CommandType:  p.CommandType,
		LineNumber:   p.LineNumber,
		Status:       jobs.CommandStatus(p.Status),
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    s.now(),
	}
	if err := s.results.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("HandlePersistFailed: line %d of job %s: %w", p.LineNumber, p.JobID, err)
	}
	s.log.Info().Str("job_id", p.JobID).Int("line", p.LineNumber).Msg("Recovered command result")
	return nil
}

func completionEmail(job *jobs.Job) (subject, body string) {
	subject = fmt.Sprintf("Your CSV upload %q finished: %s", job.FileName, job.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "Processing of %q has finished with status %s.\n\n", job.FileName, job.Status)
	fmt.Fprintf(&b, "Total rows: %d\n", deref(job.TotalRecords))
	fmt.Fprintf(&b, "Succeeded: %d\n", deref(job.SuccessfulRecords))
	fmt.Fprintf(&b, "Failed: %d\n", deref(job.FailedRecords))
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n%s\n", job.ErrorMessage)
	}
	fmt.Fprintf(&b, "\nJob ID: %s\n", job.ID)
	return subject, b.String()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
