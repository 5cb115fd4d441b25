package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the sweeper every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper fails jobs that have been PROCESSING for too long.
type Sweeper struct {
	jobs       jobs.JobStore
	staleAfter time.Duration
	cron       *cron.Cron
	log        zerolog.Logger
	now        func() time.Time
}

// NewSweeper creates a sweeper for jobs older than staleAfter.
func NewSweeper(store jobs.JobStore, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		jobs:       store,
		staleAfter: staleAfter,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep fails every stale PROCESSING job and returns how many it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.jobs.ListJobs(ctx, jobs.JobFilter{
		Status:        jobs.JobStatusProcessing,
		StartedBefore: now.Add(-s.staleAfter),
	})
	if err != nil {
		return 0, fmt.Errorf("Sweep: listing stale jobs: %w", err)
	}

	swept := 0
	for _, job := range stale {
		msg := fmt.Sprintf("Processing timed out: job did not finish within %s.", s.staleAfter)
		err := s.jobs.MarkFailed(ctx, job.ID, msg, now)
		if apperr.Is(err, apperr.KindConflict) {
			// finished between list and update
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("Sweep: failing job %s: %w", job.ID, err)
		}
		s.log.Warn().Str("job_id", job.ID).Msg("Stale job marked as failed")
		swept++
	}
	return swept, nil
}

// Start runs Sweep on the cron schedule until Stop is called.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Stale job sweep failed")
			return
		}
		if n > 0 {
			s.log.Info().Int("swept", n).Msg("Stale job sweep finished")
		}
	})
	if err != nil {
		return fmt.Errorf("Start: invalid schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop stops the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
