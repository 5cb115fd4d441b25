package commands

import (
	"context"

	"github.com/rs/zerolog"
)

// run executes fn and converts its outcome into a Result, logging either way.
func run(ctx context.Context, log zerolog.Logger, cmd Context, fn func(ctx context.Context) (map[string]interface{}, error)) Result {
	log = log.With().
		Str("job_id", cmd.JobID).
		Int("line", cmd.LineNumber).
		Str("command_type", string(cmd.Type)).
		Logger()

	details, err := fn(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Command failed")
		return Result{
			Success:     false,
			CommandType: string(cmd.Type),
			Record:      cmd.Record,
			Error:       err.Error(),
		}
	}

	log.Debug().Interface("details", details).Msg("Command succeeded")
	return Result{
		Success:     true,
		CommandType: string(cmd.Type),
		Record:      cmd.Record,
		Details:     details,
	}
}
