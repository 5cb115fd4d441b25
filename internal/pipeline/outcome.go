package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/splitledger/internal/jobs"
)

// MsgAllFailed is the job message when no row succeeded.
const MsgAllFailed = "All commands in the CSV failed to process."

// DecideOutcome maps a row summary to the job's terminal status and message.
func DecideOutcome(s Summary) (jobs.JobStatus, string) {
	status := jobs.JobStatusCompleted
	var msgs []string

	switch {
	case s.Total > 0 && s.Failed == s.Total:
		status = jobs.JobStatusFailed
		msgs = append(msgs, MsgAllFailed)
	case s.Failed > 0:
		status = jobs.JobStatusCompletedWithErrors
		msgs = append(msgs, fmt.Sprintf("%d command(s) failed during processing.", s.Failed))
	}

	if s.Unaccounted > 0 {
		if status == jobs.JobStatusCompleted {
			status = jobs.JobStatusCompletedWithErrors
		}
		msgs = append(msgs, fmt.Sprintf("%d row(s) were read but their outcome could not be determined.", s.Unaccounted))
	}

	if s.Fault != nil {
		if s.Succeeded == 0 {
			status = jobs.JobStatusFailed
		} else if status == jobs.JobStatusCompleted {
			status = jobs.JobStatusCompletedWithErrors
		}
		msgs = append(msgs, fmt.Sprintf("CSV processing stopped after %d row(s): %v", s.Total, s.Fault))
	}

	return status, strings.Join(msgs, " ")
}
