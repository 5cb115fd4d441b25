// Package pubsub implements the event transport on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/rs/zerolog"
)

// Config selects the topic and subscription used by the transport.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// MaxOutstanding bounds the number of messages handled concurrently.
	MaxOutstanding int
}

// Transport publishes to a single Pub/Sub topic and consumes from one subscription.
// The logical topic travels in the "topic" attribute, so every stream shares one
// Pub/Sub topic.
type Transport struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New connects to Pub/Sub.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Transport, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub: project and topic are required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: creating client: %w", err)
	}

	t := &Transport{
		client: client,
		topic:  client.Topic(cfg.TopicID),
		log:    log,
	}

	if cfg.SubscriptionID != "" {
		t.sub = client.Subscription(cfg.SubscriptionID)
		if cfg.MaxOutstanding > 0 {
			t.sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
			t.sub.ReceiveSettings.NumGoroutines = 1
		}
	}

	return t, nil
}

// Publish implements events.Publisher. It blocks until the server acknowledges the message.
func (t *Transport) Publish(ctx context.Context, msg *events.Message) (string, error) {
	res := t.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Body,
		Attributes: msg.Attributes,
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub: publishing message: %w", err)
	}
	msg.ID = id
	return id, nil
}

// Start implements events.Consumer.
// Messages are acked when the handler returns nil and nacked otherwise.
func (t *Transport) Start(ctx context.Context, handler events.Handler) error {
	if t.sub == nil {
		return fmt.Errorf("pubsub: no subscription configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("pubsub: consumer already started")
	}

	rctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		err := t.sub.Receive(rctx, func(ctx context.Context, m *pubsub.Message) {
			msg := &events.Message{
				ID:          m.ID,
				Body:        m.Data,
				Attributes:  m.Attributes,
				PublishedAt: m.PublishTime,
			}
			msg.DeliveryAttempt = 1
			if m.DeliveryAttempt != nil {
				msg.DeliveryAttempt = *m.DeliveryAttempt
			}

			if err := t.handle(ctx, msg, handler); err != nil {
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			t.log.Error().Err(err).Msg("Pub/Sub receive stopped with error")
		}
	}()

	return nil
}

func (t *Transport) handle(ctx context.Context, msg *events.Message, handler events.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Str("message_id", msg.ID).Msg("Handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Stop implements events.Consumer.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending publishes and closes the client.
func (t *Transport) Close() error {
	t.topic.Stop()
	return t.client.Close()
}

var _ events.Publisher = (*Transport)(nil)
var _ events.Consumer = (*Transport)(nil)
