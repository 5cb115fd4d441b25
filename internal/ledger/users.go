package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateUserInput holds validated fields for a new user.
type CreateUserInput struct {
	Name  string
	Email string
}

// UserService manages users.
type UserService struct {
	users UserRepository
	log   zerolog.Logger
}

// NewUserService creates a user service.
func NewUserService(users UserRepository, log zerolog.Logger) *UserService {
	return &UserService{users: users, log: log}
}

// CreateUser registers a user with a unique email.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	existing, err := s.users.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("CreateUser: looking up email: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("User with this email already exists.")
	}

	user := &domain.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("User with this email already exists.")
		}
		return nil, fmt.Errorf("CreateUser: inserting user: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("User created")
	return user, nil
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("User with ID %s not found.", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return user, nil
}
