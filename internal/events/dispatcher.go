package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Payload is a decoded message body that can check its own shape.
type Payload interface {
	Validate() error
}

// errDrop marks a message that can never succeed and must be acknowledged.
type errDrop struct {
	reason string
	err    error
}

func (e *errDrop) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *errDrop) Unwrap() error {
	return e.err
}

type rawHandler func(ctx context.Context, body []byte) error

// Dispatcher routes messages to handlers by topic.
//
// Messages without a usable topic, without a handler, with an undecodable body
// or with a payload that fails validation are logged and acknowledged.
// Handler errors are returned so the transport redelivers the message.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Topic]rawHandler
	handled  *cache.Cache
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher that remembers handled message IDs for dedupeTTL.
// A zero dedupeTTL disables duplicate suppression.
func NewDispatcher(dedupeTTL time.Duration, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[Topic]rawHandler),
		log:      log,
	}
	if dedupeTTL > 0 {
		d.handled = cache.New(dedupeTTL, 2*dedupeTTL)
	}
	return d
}

// Register binds a typed handler to topic. Registering a topic twice replaces the handler.
func Register[T Payload](d *Dispatcher, topic Topic, h func(ctx context.Context, payload T) error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[topic] = func(ctx context.Context, body []byte) error {
		var payload T
		if err := json.Unmarshal(body, &payload); err != nil {
			return &errDrop{reason: "invalid JSON body", err: err}
		}
		if err := payload.Validate(); err != nil {
			return &errDrop{reason: "payload validation failed", err: err}
		}
		return h(ctx, payload)
	}
}

// Topics returns the topics with a registered handler.
func (d *Dispatcher) Topics() []Topic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	topics := make([]Topic, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Handle implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, msg *Message) error {
	raw, ok := msg.Attributes[AttrTopic]
	logCtx := d.log.With().Str("message_id", msg.ID).Str("topic", raw).Int("attempt", msg.DeliveryAttempt)
	if jobID := msg.Attributes[AttrJobID]; jobID != "" {
		logCtx = logCtx.Str("job_id", jobID)
	}
	log := logCtx.Logger()

	if !ok || raw == "" {
		log.Warn().Msg("Message has no topic attribute, dropping")
		return nil
	}

	topic := Topic(raw)
	if !topic.Valid() {
		log.Warn().Msg("Message has an unknown topic, dropping")
		return nil
	}

	d.mu.RLock()
	h, ok := d.handlers[topic]
	d.mu.RUnlock()
	if !ok {
		log.Warn().Msg("No handler registered for topic, dropping")
		return nil
	}

	if d.handled != nil && msg.ID != "" {
		if _, seen := d.handled.Get(msg.ID); seen {
			log.Info().Msg("Duplicate delivery of handled message, acknowledging")
			return nil
		}
	}

	err := h(ctx, msg.Body)

	var drop *errDrop
	if errors.As(err, &drop) {
		log.Error().Err(drop.err).Msg(drop.reason + ", dropping")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Handler failed, message will be redelivered")
		return err
	}

	if d.handled != nil && msg.ID != "" {
		d.handled.SetDefault(msg.ID, struct{}{})
	}
	log.Debug().Msg("Message handled")
	return nil
}
