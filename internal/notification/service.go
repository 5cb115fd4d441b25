// Package notification sends outbound emails at most once per (event, type, recipient).
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/splitledger/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the state recorded in the sent-notification log.
type Status string

const (
	StatusSuccess            Status = "SUCCESS"
	StatusFailed             Status = "FAILED"
	StatusPending            Status = "PENDING"
	StatusSkippedIdempotency Status = "SKIPPED_IDEMPOTENCY"
)

// LogEntry is the state of one (event, type, recipient) key.
type LogEntry struct {
	ID                string    `json:"id"`
	EventID           string    `json:"eventId"`
	EventType         string    `json:"eventType"`
	Recipient         string    `json:"recipient"`
	Subject           string    `json:"subject"`
	Status            Status    `json:"status"`
	ProviderMessageID string    `json:"notificationMessageId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// LogStore persists the sent-notification log.
type LogStore interface {
	// FindEntry returns the entry for the key, or nil when there is none.
	FindEntry(ctx context.Context, eventID, eventType, recipient string) (*LogEntry, error)

	// ClaimEntry stores entry as PENDING unless the key is taken, and reports
	// whether the caller now owns the key. A FAILED entry, or a PENDING entry
	// created before staleBefore, is taken over. When the claim loses, the
	// current entry is returned.
	ClaimEntry(ctx context.Context, entry *LogEntry, staleBefore time.Time) (bool, *LogEntry, error)

	// CompleteEntry sets the final status and provider message ID of a claimed key.
	CompleteEntry(ctx context.Context, entry *LogEntry) error
}

// Email is a plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers an email and returns the provider's message ID.
type Mailer interface {
	Send(ctx context.Context, email Email) (string, error)
}

// DefaultClaimTimeout is how long a PENDING claim blocks other senders of the
// same key. A worker that dies mid-send releases its key after this long.
const DefaultClaimTimeout = 10 * time.Minute

// Service sends notification requests idempotently.
type Service struct {
	store        LogStore
	mailer       Mailer
	log          zerolog.Logger
	claimTimeout time.Duration
	now          func() time.Time
}

// NewService creates a notification service.
func NewService(store LogStore, mailer Mailer, log zerolog.Logger) *Service {
	return &Service{
		store:        store,
		mailer:       mailer,
		log:          log,
		claimTimeout: DefaultClaimTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ErrNoMessageID is returned when the provider accepted a send without an ID.
var ErrNoMessageID = errors.New("mail provider returned no message ID")

// RequestNotification sends the email unless another request already sent it or
// is sending it.
//
// The key is claimed as PENDING before the mailer is called, so concurrent
// duplicates send once. A failed send marks the key FAILED and returns the error,
// which leaves the request eligible for redelivery. A failure to record a
// confirmed send is logged and not returned.
func (s *Service) RequestNotification(ctx context.Context, req events.NotificationSend) (Status, error) {
	log := s.log.With().
		Str("event_id", req.EventID).
		Str("event_type", req.EventType).
		Str("recipient", req.RecipientEmail).
		Logger()

	log.Info().Msg("Processing notification request")

	now := s.now()
	entry := &LogEntry{
		ID:        uuid.NewString(),
		EventID:   req.EventID,
		EventType: req.EventType,
		Recipient: req.RecipientEmail,
		Subject:   req.Subject,
		Status:    StatusPending,
		CreatedAt: now,
	}
	claimed, current, err := s.store.ClaimEntry(ctx, entry, now.Add(-s.claimTimeout))
	if err != nil {
		return StatusFailed, fmt.Errorf("RequestNotification: claiming log entry: %w", err)
	}
	if !claimed {
		ev := log.Info()
		if current != nil {
			ev = ev.Str("status", string(current.Status)).Str("notification_id", current.ProviderMessageID)
		}
		ev.Msg("Notification already sent or in flight, skipping")
		return StatusSkippedIdempotency, nil
	}

	messageID, err := s.mailer.Send(ctx, Email{
		To:      req.RecipientEmail,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err == nil && messageID == "" {
		err = ErrNoMessageID
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to send notification email")
		entry.Status = StatusFailed
		if cerr := s.store.CompleteEntry(context.WithoutCancel(ctx), entry); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to release notification log entry")
		}
		return StatusFailed, fmt.Errorf("RequestNotification: sending email: %w", err)
	}

	entry.Status = StatusSuccess
	entry.ProviderMessageID = messageID
	if err := s.store.CompleteEntry(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("notification_id", messageID).Msg("Failed to record notification log")
	}

	log.Info().Str("notification_id", messageID).Msg("Notification email sent successfully")
	return StatusSuccess, nil
}

// Handle adapts RequestNotification to the event dispatcher.
func (s *Service) Handle(ctx context.Context, req events.NotificationSend) error {
	_, err := s.RequestNotification(ctx, req)
	return err
}
