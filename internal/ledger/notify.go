package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/money"
	"github.com/rs/zerolog"
)

// Notifier turns ledger events into notification.send requests.
//
// Each request carries the source entity ID as its event ID, so redelivering a
// ledger event never emails the same recipient twice.
type Notifier struct {
	expenses    ExpenseRepository
	settlements SettlementRepository
	users       UserRepository
	producer    events.Producer
	log         zerolog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(expenses ExpenseRepository, settlements SettlementRepository, users UserRepository, producer events.Producer, log zerolog.Logger) *Notifier {
	return &Notifier{
		expenses:    expenses,
		settlements: settlements,
		users:       users,
		producer:    producer,
		log:         log,
	}
}

// HandleExpenseCreated notifies every participant of their share.
func (n *Notifier) HandleExpenseCreated(ctx context.Context, p events.ExpenseCreated) error {
	log := n.log.With().Str("expense_id", p.ExpenseID).Logger()

	expense, err := n.expenses.FindExpenseByID(ctx, p.ExpenseID)
	if errors.Is(err, ErrNotFound) {
		log.Error().Msg("Expense not found, cannot send notifications")
		return nil
	}
	if err != nil {
		return fmt.Errorf("HandleExpenseCreated: loading expense: %w", err)
	}

	var errs []error
	for _, share := range expense.Participants {
		user, err := n.users.FindUserByID(ctx, share.ParticipantID)
		if err != nil {
			log.Error().Err(err).Str("participant_id", share.ParticipantID).Msg("Failed to load participant")
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}

		req := events.NotificationSend{
			EventID:        expense.ID,
			EventType:      string(events.TopicExpenseCreated),
			RecipientEmail: user.Email,
			Subject:        fmt.Sprintf("Expense '%s' Logged Successfully", expense.Description),
			Body: fmt.Sprintf("Hi %s,\n\nYou have been added to the expense '%s' for %s.\n",
				user.Name, expense.Description, money.Format(share.Amount, expense.Currency)),
		}
		if _, err := n.producer.Send(ctx, events.TopicNotificationSend, req, nil); err != nil {
			log.Error().Err(err).Str("participant_id", share.ParticipantID).Msg("Failed to request notification")
			errs = append(errs, err)
		}
	}

	log.Info().Int("participants", len(expense.Participants)).Msg("Processed expense notifications")
	return errors.Join(errs...)
}

// HandleSettlementCreated notifies the payer and the payee.
func (n *Notifier) HandleSettlementCreated(ctx context.Context, p events.SettlementCreated) error {
	log := n.log.With().Str("settlement_id", p.SettlementID).Logger()

	settlement, err := n.settlements.FindSettlementByID(ctx, p.SettlementID)
	if errors.Is(err, ErrNotFound) {
		log.Error().Msg("Settlement not found, cannot send notifications")
		return nil
	}
	if err != nil {
		return fmt.Errorf("HandleSettlementCreated: loading settlement: %w", err)
	}

	payer, err := n.users.FindUserByID(ctx, settlement.PayerID)
	if err != nil {
		return fmt.Errorf("HandleSettlementCreated: loading payer: %w", err)
	}
	payee, err := n.users.FindUserByID(ctx, settlement.PayeeID)
	if err != nil {
		return fmt.Errorf("HandleSettlementCreated: loading payee: %w", err)
	}

	amount := money.Format(settlement.Amount, settlement.Currency)
	messages := []struct {
		to      *domain.User
		subject string
		body    string
	}{
		{payer, "Settlement Recorded", fmt.Sprintf("Hi %s,\n\nYour payment of %s to %s has been recorded.\n", payer.Name, amount, payee.Name)},
		{payee, "Settlement Received", fmt.Sprintf("Hi %s,\n\n%s paid you %s.\n", payee.Name, payer.Name, amount)},
	}

	var errs []error
	for _, m := range messages {
		req := events.NotificationSend{
			EventID:        settlement.ID,
			EventType:      string(events.TopicSettlementCreated),
			RecipientEmail: m.to.Email,
			Subject:        m.subject,
			Body:           m.body,
		}
		if _, err := n.producer.Send(ctx, events.TopicNotificationSend, req, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
