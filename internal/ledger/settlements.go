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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateSettlementInput holds validated fields for a new settlement.
type CreateSettlementInput struct {
	GroupID          string
	PayerID          string
	PayeeID          string
	RequestingUserID string
	Amount           int64
	Currency         string
	SettlementDate   civil.Date
}

// SettlementService records repayments between members.
type SettlementService struct {
	settlements SettlementRepository
	groups      GroupRepository
	producer    events.Producer
	log         zerolog.Logger
}

// NewSettlementService creates a settlement service.
func NewSettlementService(settlements SettlementRepository, groups GroupRepository, producer events.Producer, log zerolog.Logger) *SettlementService {
	return &SettlementService{settlements: settlements, groups: groups, producer: producer, log: log}
}

// CreateSettlement records a repayment from payer to payee inside a group.
func (s *SettlementService) CreateSettlement(ctx context.Context, in CreateSettlementInput) (*domain.Settlement, error) {
	group, err := findGroup(ctx, s.groups, in.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(in.RequestingUserID) {
		s.log.Warn().Str("user_id", in.RequestingUserID).Str("group_id", group.ID).Msg("Settlement attempt without membership")
		return nil, apperr.Forbidden("User is not a member of the specified group.")
	}
	if !group.HasMember(in.PayerID) {
		return nil, apperr.BadRequest("Payer is not a member of the specified group.")
	}
	if !group.HasMember(in.PayeeID) {
		return nil, apperr.BadRequest("Payee is not a member of the specified group.")
	}
	if in.PayerID == in.PayeeID {
		return nil, apperr.BadRequest("Payer and payee cannot be the same user.")
	}

	settlement := &domain.Settlement{
		ID:             uuid.NewString(),
		GroupID:        group.ID,
		PayerID:        in.PayerID,
		PayeeID:        in.PayeeID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		SettlementDate: in.SettlementDate,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.settlements.CreateSettlement(ctx, settlement); err != nil {
		return nil, fmt.Errorf("CreateSettlement: inserting settlement: %w", err)
	}

	s.log.Info().Str("settlement_id", settlement.ID).Str("group_id", group.ID).Msg("Settlement created")

	if _, err := s.producer.Send(ctx, events.TopicSettlementCreated, events.SettlementCreated{SettlementID: settlement.ID}, nil); err != nil {
		s.log.Error().Err(err).Str("settlement_id", settlement.ID).Msg("Failed to publish settlement.created")
	}
	return settlement, nil
}

// GetSettlement returns a settlement by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, id string) (*domain.Settlement, error) {
	settlement, err := s.settlements.FindSettlementByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Settlement with ID %s not found.", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSettlement: %w", err)
	}
	return settlement, nil
}
