package commands

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/rs/zerolog"
)

// Registry maps command types to strategies.
type Registry struct {
	strategies map[Type]Strategy
	log        zerolog.Logger
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(log zerolog.Logger, strategies ...Strategy) (*Registry, error) {
	r := &Registry{
		strategies: make(map[Type]Strategy, len(strategies)),
		log:        log,
	}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a strategy. A type can only be registered once.
func (r *Registry) Register(s Strategy) error {
	t := s.Type()
	if !t.Valid() {
		return fmt.Errorf("register: unknown command type %q", t)
	}
	if _, exists := r.strategies[t]; exists {
		return fmt.Errorf("register: strategy for %s already registered", t)
	}
	r.strategies[t] = s
	return nil
}

// Parse resolves the row's command type.
func (r *Registry) Parse(record Record, jobID, userID string) (Context, error) {
	raw := record.Get(ColCommandType)
	if raw == "" {
		return Context{}, fmt.Errorf("invalid or missing 'commandType' in CSV row, expected one of [%s]", typeList())
	}
	t := Type(raw)
	if !t.Valid() {
		return Context{}, fmt.Errorf("invalid 'commandType' value in CSV row: '%s'. Must be one of [%s]", raw, typeList())
	}
	return Context{Type: t, Record: record, JobID: jobID, UserID: userID}, nil
}

// StrategyFor returns the strategy registered for the context's type.
func (r *Registry) StrategyFor(cmd Context) (Strategy, error) {
	s, ok := r.strategies[cmd.Type]
	if !ok {
		return nil, fmt.Errorf("strategy not found for command type: %s", cmd.Type)
	}
	return s, nil
}

// Dispatch parses, resolves and executes one row. It never panics.
func (r *Registry) Dispatch(ctx context.Context, record Record, jobID, userID string, line int) (res Result) {
	cmd, err := r.Parse(record, jobID, userID)
	if err != nil {
		return Result{CommandType: jobs.UnknownCommandType, Record: record, Error: err.Error()}
	}
	cmd.LineNumber = line

	strategy, err := r.StrategyFor(cmd)
	if err != nil {
		return Result{CommandType: string(cmd.Type), Record: record, Error: err.Error()}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("job_id", jobID).
				Int("line", line).
				Str("command_type", string(cmd.Type)).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Command strategy panicked")
			res = Result{
				CommandType: string(cmd.Type),
				Record:      record,
				Error:       fmt.Sprintf("internal error executing %s", cmd.Type),
			}
		}
	}()

	res = strategy.Execute(ctx, cmd)
	if res.CommandType == "" {
		res.CommandType = string(cmd.Type)
	}
	if res.Record == nil {
		res.Record = record
	}
	return res
}
