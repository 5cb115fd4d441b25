package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/splitledger/internal/notification"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationLog implements notification.LogStore.
type NotificationLog struct {
	pool *pgxpool.Pool
}

// NewNotificationLog creates a notification log.
func NewNotificationLog(pool *pgxpool.Pool) *NotificationLog {
	return &NotificationLog{pool: pool}
}

// FindEntry implements notification.LogStore.
func (l *NotificationLog) FindEntry(ctx context.Context, eventID, eventType, recipient string) (*notification.LogEntry, error) {
	var (
		e      notification.LogEntry
		status string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, event_id, event_type, recipient, subject, status, provider_message_id, created_at
		FROM notification_log
		WHERE event_id = $1 AND event_type = $2 AND recipient = $3`,
		eventID, eventType, recipient).
		Scan(&e.ID, &e.EventID, &e.EventType, &e.Recipient, &e.Subject, &status, &e.ProviderMessageID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindEntry: %w", err)
	}
	e.Status = notification.Status(status)
	return &e, nil
}

// ClaimEntry implements notification.LogStore. The upsert only overwrites FAILED
// rows and PENDING rows older than staleBefore, so exactly one concurrent caller
// gets a row back.
func (l *NotificationLog) ClaimEntry(ctx context.Context, entry *notification.LogEntry, staleBefore time.Time) (bool, *notification.LogEntry, error) {
	var id string
	err := l.pool.QueryRow(ctx, `
		INSERT INTO notification_log (id, event_id, event_type, recipient, subject, status, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7)
		ON CONFLICT (event_id, event_type, recipient) DO UPDATE
		SET status = EXCLUDED.status,
		    subject = EXCLUDED.subject,
		    provider_message_id = '',
		    created_at = EXCLUDED.created_at
		WHERE notification_log.status = $8
		   OR (notification_log.status = $6 AND notification_log.created_at < $9)
		RETURNING id`,
		entry.ID, entry.EventID, entry.EventType, entry.Recipient, entry.Subject,
		string(notification.StatusPending), entry.CreatedAt,
		string(notification.StatusFailed), staleBefore).Scan(&id)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("ClaimEntry: %w", err)
	}

	current, err := l.FindEntry(ctx, entry.EventID, entry.EventType, entry.Recipient)
	if err != nil {
		return false, nil, fmt.Errorf("ClaimEntry: %w", err)
	}
	return false, current, nil
}

// CompleteEntry implements notification.LogStore.
func (l *NotificationLog) CompleteEntry(ctx context.Context, entry *notification.LogEntry) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE notification_log
		SET status = $4, provider_message_id = $5
		WHERE event_id = $1 AND event_type = $2 AND recipient = $3`,
		entry.EventID, entry.EventType, entry.Recipient, string(entry.Status), entry.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("CompleteEntry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("CompleteEntry: no claimed notification for %s/%s/%s", entry.EventID, entry.EventType, entry.Recipient)
	}
	return nil
}

var _ notification.LogStore = (*NotificationLog)(nil)
