package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/jobs"
)

// Step is a single stage of file processing.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// State holds the shared state across all processing steps.
type State struct {
	Event   events.ProcessingStarted
	Job     *jobs.Job
	File    io.ReadCloser
	Summary Summary
	Outcome jobs.Outcome

	// Claimed is set once the job moved to PROCESSING under this run.
	Claimed bool
	// Finalized is set once the job reached a terminal state under this run.
	Finalized bool
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// NewProcessingPipeline creates the standard pipeline for one uploaded file.
func NewProcessingPipeline(s *Service) *Pipeline {
	return NewPipeline(
		&loadJobStep{s},
		&claimJobStep{s},
		&openFileStep{s},
		&processRowsStep{s},
		&finalizeStep{s},
		&recordRunStep{s},
		&announceStep{s},
	)
}

// errAlreadyFinished stops the pipeline for a job that reached a terminal state
// in an earlier delivery.
var errAlreadyFinished = errors.New("job already finished")

// loadJobStep loads the job and checks the event against it.
type loadJobStep struct{ s *Service }

func (st *loadJobStep) Name() string { return "load job" }

func (st *loadJobStep) Execute(ctx context.Context, state *State) error {
	job, err := st.s.jobs.GetJob(ctx, state.Event.JobID)
	if err != nil {
		return err
	}
	if job.CreatedBy != state.Event.UserID {
		return apperr.Forbidden("User %s is not the owner of job %s.", state.Event.UserID, job.ID)
	}
	if job.Status.IsTerminal() {
		state.Job = job
		return errAlreadyFinished
	}
	if job.Status != jobs.JobStatusPending {
		return apperr.Conflict("Job %s is not in PENDING state (current: %s).", job.ID, job.Status)
	}
	state.Job = job
	return nil
}

// claimJobStep moves the job to PROCESSING. Losing the race is a conflict.
type claimJobStep struct{ s *Service }

func (st *claimJobStep) Name() string { return "claim job" }

func (st *claimJobStep) Execute(ctx context.Context, state *State) error {
	at := st.s.now()
	if err := st.s.jobs.TransitionStatus(ctx, state.Job.ID, jobs.JobStatusPending, jobs.JobStatusProcessing, at); err != nil {
		return err
	}
	state.Job.Status = jobs.JobStatusProcessing
	state.Job.ProcessingStartedAt = &at
	state.Claimed = true
	return nil
}

// openFileStep opens the uploaded file named by the persisted job.
type openFileStep struct{ s *Service }

func (st *openFileStep) Name() string { return "open file" }

func (st *openFileStep) Execute(ctx context.Context, state *State) error {
	if state.Event.StorageKey != state.Job.StorageKey || state.Event.BucketName != state.Job.BucketName {
		st.s.log.Warn().
			Str("job_id", state.Job.ID).
			Str("event_key", state.Event.StorageKey).
			Str("job_key", state.Job.StorageKey).
			Msg("Event file location differs from job, using job")
	}
	f, err := st.s.blobs.Open(ctx, state.Job.BucketName, state.Job.StorageKey)
	if err != nil {
		return fmt.Errorf("opening %s: %w", state.Job.StorageKey, err)
	}
	state.File = f
	return nil
}

// processRowsStep streams the file through the command dispatcher.
type processRowsStep struct{ s *Service }

func (st *processRowsStep) Name() string { return "process rows" }

func (st *processRowsStep) Execute(ctx context.Context, state *State) error {
	state.Summary = st.s.rows.Process(ctx, state.File, state.Job.ID, state.Job.CreatedBy)
	return nil
}

// finalizeStep writes the terminal status and counters.
type finalizeStep struct{ s *Service }

func (st *finalizeStep) Name() string { return "finalize job" }

func (st *finalizeStep) Execute(ctx context.Context, state *State) error {
	status, msg := DecideOutcome(state.Summary)
	state.Outcome = jobs.Outcome{
		Status:       status,
		Total:        state.Summary.Total,
		Succeeded:    state.Summary.Succeeded,
		Failed:       state.Summary.Failed,
		ErrorMessage: msg,
		CompletedAt:  st.s.now(),
	}
	// A cancelled context must not leave the job PROCESSING.
	if err := st.s.jobs.Finalize(context.WithoutCancel(ctx), state.Job.ID, state.Outcome); err != nil {
		return err
	}
	state.Finalized = true

	st.s.log.Info().
		Str("job_id", state.Job.ID).
		Str("status", string(status)).
		Int("total", state.Outcome.Total).
		Int("succeeded", state.Outcome.Succeeded).
		Int("failed", state.Outcome.Failed).
		Msg("Job finalized")
	return nil
}

// recordRunStep hands the finished run to the analytics sink. Failures are logged only.
type recordRunStep struct{ s *Service }

func (st *recordRunStep) Name() string { return "record run" }

func (st *recordRunStep) Execute(ctx context.Context, state *State) error {
	if st.s.recorder == nil {
		return nil
	}
	run := Run{
		JobID:       state.Job.ID,
		CreatedBy:   state.Job.CreatedBy,
		FileName:    state.Job.FileName,
		Status:      state.Outcome.Status,
		Total:       state.Summary.Total,
		Succeeded:   state.Summary.Succeeded,
		Failed:      state.Summary.Failed,
		Unaccounted: state.Summary.Unaccounted,
		CompletedAt: state.Outcome.CompletedAt,
	}
	if state.Job.ProcessingStartedAt != nil {
		run.StartedAt = *state.Job.ProcessingStartedAt
	}
	if state.Summary.Fault != nil {
		run.StreamFault = state.Summary.Fault.Error()
	}
	if err := st.s.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		st.s.log.Error().Err(err).Str("job_id", state.Job.ID).Msg("Failed to record job run")
	}
	return nil
}

// announceStep publishes csv.processing.completed.
type announceStep struct{ s *Service }

func (st *announceStep) Name() string { return "announce completion" }

func (st *announceStep) Execute(ctx context.Context, state *State) error {
	_, err := st.s.producer.Send(context.WithoutCancel(ctx), events.TopicProcessingCompleted, events.ProcessingCompleted{JobID: state.Job.ID}, map[string]string{events.AttrJobID: state.Job.ID})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", events.TopicProcessingCompleted, err)
	}
	return nil
}
