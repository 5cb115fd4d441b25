package commands

import (
	"context"

	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/rs/zerolog"
)

// UserCreator is the domain operation behind CREATE_USER.
type UserCreator interface {
	CreateUser(ctx context.Context, in ledger.CreateUserInput) (*domain.User, error)
}

// CreateUserStrategy handles CREATE_USER rows.
type CreateUserStrategy struct {
	users UserCreator
	log   zerolog.Logger
}

// NewCreateUserStrategy creates the strategy.
func NewCreateUserStrategy(users UserCreator, log zerolog.Logger) *CreateUserStrategy {
	return &CreateUserStrategy{users: users, log: log}
}

// Type implements Strategy.
func (s *CreateUserStrategy) Type() Type { return CreateUser }

// Execute implements Strategy.
func (s *CreateUserStrategy) Execute(ctx context.Context, cmd Context) Result {
	return run(ctx, s.log, cmd, func(ctx context.Context) (map[string]interface{}, error) {
		f := newFields(cmd.Record)
		in := ledger.CreateUserInput{
			Email: f.email(ColEmail),
			Name:  f.text(ColName, true),
		}
		if err := f.err(cmd.Type); err != nil {
			return nil, err
		}

		user, err := s.users.CreateUser(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"userId":  user.ID,
			"message": "User created successfully.",
		}, nil
	})
}
