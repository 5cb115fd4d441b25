package commands

import (
	"context"

	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/dvloznov/splitledger/internal/money"
	"github.com/rs/zerolog"
)

// SettlementCreator is the domain operation behind CREATE_SETTLEMENT.
type SettlementCreator interface {
	CreateSettlement(ctx context.Context, in ledger.CreateSettlementInput) (*domain.Settlement, error)
}

// CreateSettlementStrategy handles CREATE_SETTLEMENT rows.
type CreateSettlementStrategy struct {
	settlements SettlementCreator
	log         zerolog.Logger
}

// NewCreateSettlementStrategy creates the strategy.
func NewCreateSettlementStrategy(settlements SettlementCreator, log zerolog.Logger) *CreateSettlementStrategy {
	return &CreateSettlementStrategy{settlements: settlements, log: log}
}

// Type implements Strategy.
func (s *CreateSettlementStrategy) Type() Type { return CreateSettlement }

// Execute implements Strategy.
func (s *CreateSettlementStrategy) Execute(ctx context.Context, cmd Context) Result {
	return run(ctx, s.log, cmd, func(ctx context.Context) (map[string]interface{}, error) {
		f := newFields(cmd.Record)
		in := ledger.CreateSettlementInput{
			GroupID:          f.uuid(ColGroupID, true),
			PayerID:          f.uuid(ColPayerID, true),
			PayeeID:          f.uuid(ColPayeeID, true),
			Amount:           f.positiveAmount(ColAmount),
			Currency:         f.currency(ColCurrency, money.DefaultCurrency, true),
			SettlementDate:   f.date(ColSettlementDate, true),
			RequestingUserID: f.uuid(ColRequestingUserID, false),
		}
		if err := f.err(cmd.Type); err != nil {
			return nil, err
		}
		if err := actAsOwner(&in.RequestingUserID, cmd.UserID); err != nil {
			return nil, err
		}

		settlement, err := s.settlements.CreateSettlement(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"settlementId": settlement.ID,
			"message":      "Settlement created successfully.",
		}, nil
	})
}
