// Package inmemory provides a map-backed sent-notification log.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/splitledger/internal/notification"
)

type key struct {
	eventID, eventType, recipient string
}

// Log is an in-memory notification.LogStore.
type Log struct {
	mu      sync.RWMutex
	entries map[key]notification.LogEntry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{entries: make(map[key]notification.LogEntry)}
}

// FindEntry implements notification.LogStore.
func (l *Log) FindEntry(ctx context.Context, eventID, eventType, recipient string) (*notification.LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[key{eventID, eventType, recipient}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// ClaimEntry implements notification.LogStore.
func (l *Log) ClaimEntry(ctx context.Context, entry *notification.LogEntry, staleBefore time.Time) (bool, *notification.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{entry.EventID, entry.EventType, entry.Recipient}
	if cur, exists := l.entries[k]; exists {
		takeover := cur.Status == notification.StatusFailed ||
			(cur.Status == notification.StatusPending && cur.CreatedAt.Before(staleBefore))
		if !takeover {
			return false, &cur, nil
		}
	}
	claimed := *entry
	claimed.Status = notification.StatusPending
	claimed.ProviderMessageID = ""
	l.entries[k] = claimed
	return true, nil, nil
}

// CompleteEntry implements notification.LogStore.
func (l *Log) CompleteEntry(ctx context.Context, entry *notification.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{entry.EventID, entry.EventType, entry.Recipient}
	cur, exists := l.entries[k]
	if !exists {
		return fmt.Errorf("no claimed notification for %s/%s/%s", entry.EventID, entry.EventType, entry.Recipient)
	}
	cur.Status = entry.Status
	cur.ProviderMessageID = entry.ProviderMessageID
	l.entries[k] = cur
	return nil
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

var _ notification.LogStore = (*Log)(nil)
