package commands

import (
	"context"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/dvloznov/splitledger/internal/money"
	"github.com/dvloznov/splitledger/internal/split"
	"github.com/rs/zerolog"
)

// ExpenseCreator is the domain operation behind CREATE_EXPENSE.
type ExpenseCreator interface {
	CreateExpense(ctx context.Context, in ledger.CreateExpenseInput) (*domain.Expense, error)
}

// CreateExpenseStrategy handles CREATE_EXPENSE rows.
type CreateExpenseStrategy struct {
	expenses ExpenseCreator
	log      zerolog.Logger
}

// NewCreateExpenseStrategy creates the strategy.
func NewCreateExpenseStrategy(expenses ExpenseCreator, log zerolog.Logger) *CreateExpenseStrategy {
	return &CreateExpenseStrategy{expenses: expenses, log: log}
}

// Type implements Strategy.
func (s *CreateExpenseStrategy) Type() Type { return CreateExpense }

// Execute implements Strategy.
func (s *CreateExpenseStrategy) Execute(ctx context.Context, cmd Context) Result {
	return run(ctx, s.log, cmd, func(ctx context.Context) (map[string]interface{}, error) {
		in, err := s.parse(cmd)
		if err != nil {
			return nil, err
		}
		expense, err := s.expenses.CreateExpense(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"expenseId": expense.ID,
			"message":   "Expense created successfully.",
		}, nil
	})
}

func (s *CreateExpenseStrategy) parse(cmd Context) (ledger.CreateExpenseInput, error) {
	f := newFields(cmd.Record)
	in := ledger.CreateExpenseInput{
		Description:            f.text(ColDescription, true),
		Amount:                 f.positiveAmount(ColAmount),
		Currency:               f.currency(ColCurrency, money.DefaultCurrency, false),
		ExpenseDate:            f.date(ColExpenseDate, true),
		GroupID:                f.uuid(ColGroupID, true),
		PayerID:                f.uuid(ColPayerID, true),
		InvolvedParticipantIDs: f.uuidList(ColInvolvedParticipantIDs),
		RequestingUserID:       f.uuid(ColRequestingUserID, false),
	}

	splitType := split.Type(f.text(ColSplitType, true))
	if splitType != "" && !splitType.Valid() {
		f.fail(ColSplitType, "Invalid enum value. Expected 'EQUAL' | 'PARTIAL_EQUAL', received '"+string(splitType)+"'")
	}
	in.SplitType = splitType

	if err := f.err(cmd.Type); err != nil {
		return in, err
	}
	if err := actAsOwner(&in.RequestingUserID, cmd.UserID); err != nil {
		return in, err
	}
	return in, nil
}

// actAsOwner fills requester with the job owner and rejects rows that name someone else.
func actAsOwner(requester *string, owner string) error {
	if *requester != "" && *requester != owner {
		return apperr.Forbidden("requestingUserId %s does not match the job owner", *requester)
	}
	*requester = owner
	return nil
}
