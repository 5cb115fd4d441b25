package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/split"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateExpenseInput holds validated fields for a new expense.
type CreateExpenseInput struct {
	GroupID                string
	PayerID                string
	RequestingUserID       string
	Description            string
	Amount                 int64
	Currency               string
	ExpenseDate            civil.Date
	SplitType              split.Type
	InvolvedParticipantIDs []string
}

// ExpenseService records expenses and their shares.
type ExpenseService struct {
	expenses ExpenseRepository
	groups   GroupRepository
	producer events.Producer
	log      zerolog.Logger
}

// NewExpenseService creates an expense service.
func NewExpenseService(expenses ExpenseRepository, groups GroupRepository, producer events.Producer, log zerolog.Logger) *ExpenseService {
	return &ExpenseService{expenses: expenses, groups: groups, producer: producer, log: log}
}

// CreateExpense splits the amount across the chosen members, persists the
// expense and announces it on the expense.created topic.
func (s *ExpenseService) CreateExpense(ctx context.Context, in CreateExpenseInput) (*domain.Expense, error) {
	group, err := findGroup(ctx, s.groups, in.GroupID)
	if err != nil {
		return nil, err
	}
	if len(group.MemberIDs) == 0 {
		return nil, apperr.BadRequest("Group with ID %s has no members.", group.ID)
	}
	if !group.HasMember(in.RequestingUserID) {
		return nil, apperr.Forbidden("Requesting user is not a member of the group.")
	}
	if !group.HasMember(in.PayerID) {
		return nil, apperr.BadRequest("Payer with ID %s is not a member of the group.", in.PayerID)
	}

	strategy, err := split.ForType(in.SplitType)
	if err != nil {
		return nil, err
	}
	shares, err := strategy.Shares(split.Input{
		Amount:   in.Amount,
		Eligible: group.MemberSet(),
		Selected: in.InvolvedParticipantIDs,
	})
	if err != nil {
		return nil, err
	}

	expense := &domain.Expense{
		ID:           uuid.NewString(),
		GroupID:      group.ID,
		PayerID:      in.PayerID,
		Description:  in.Description,
		Amount:       in.Amount,
		Currency:     in.Currency,
		ExpenseDate:  in.ExpenseDate,
		SplitType:    in.SplitType,
		Participants: shares,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.expenses.CreateExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("CreateExpense: inserting expense: %w", err)
	}

	s.log.Info().Str("expense_id", expense.ID).Str("group_id", group.ID).Msg("Expense created successfully")

	// The expense is already persisted, so a lost announcement only costs the participant emails.
	if _, err := s.producer.Send(ctx, events.TopicExpenseCreated, events.ExpenseCreated{ExpenseID: expense.ID}, nil); err != nil {
		s.log.Error().Err(err).Str("expense_id", expense.ID).Msg("Failed to publish expense.created")
	}
	return expense, nil
}

// GetExpense returns an expense by ID.
func (s *ExpenseService) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	expense, err := s.expenses.FindExpenseByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Expense with ID %s not found.", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetExpense: %w", err)
	}
	return expense, nil
}
