// Package events carries asynchronous messages between the API, the worker and
// the notification step.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a message stream. It travels in the "topic" message attribute.
type Topic string

const (
	// TopicProcessingStarted is emitted once an upload is confirmed.
	TopicProcessingStarted Topic = "csv.processing.started"
	// TopicProcessingCompleted is emitted after a job reaches a terminal state.
	TopicProcessingCompleted Topic = "csv.processing.completed"
	// TopicCommandResultPersistFailed carries a row result the store rejected.
	TopicCommandResultPersistFailed Topic = "csv.processing.command_result.persist_failed"
	// TopicExpenseCreated is emitted for every persisted expense.
	TopicExpenseCreated Topic = "expense.created"
	// TopicSettlementCreated is emitted for every persisted settlement.
	TopicSettlementCreated Topic = "settlement.created"
	// TopicNotificationSend requests an outbound email.
	TopicNotificationSend Topic = "notification.send"
)

// AttrTopic is the message attribute holding the topic.
const AttrTopic = "topic"

// AttrJobID is the message attribute naming the CSV job a message belongs to.
const AttrJobID = "jobId"

var knownTopics = map[Topic]struct{}{
	TopicProcessingStarted:          {},
	TopicProcessingCompleted:        {},
	TopicCommandResultPersistFailed: {},
	TopicExpenseCreated:             {},
	TopicSettlementCreated:          {},
	TopicNotificationSend:           {},
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	_, ok := knownTopics[t]
	return ok
}

// Message is the transport envelope.
type Message struct {
	// ID is assigned by the transport on publish.
	ID string
	// Body is the JSON encoded payload.
	Body []byte
	// Attributes always include AttrTopic for messages built with Send.
	Attributes map[string]string
	// DeliveryAttempt starts at 1 and grows with every redelivery.
	DeliveryAttempt int
	// PublishedAt is when the transport accepted the message.
	PublishedAt time.Time
}

// Topic returns the topic attribute of the message.
func (m *Message) Topic() Topic {
	return Topic(m.Attributes[AttrTopic])
}

// Publisher hands a message to the transport and returns its ID.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) (string, error)
}

// Consumer delivers messages to a handler.
// A message is acknowledged only when the handler returns nil.
type Consumer interface {
	// Start begins delivering messages. It does not block.
	Start(ctx context.Context, handler Handler) error

	// Stop stops delivery and waits for in-flight handlers.
	Stop(ctx context.Context) error
}

// Handler processes one delivered message.
// Returning an error leaves the message unacknowledged so the transport redelivers it.
type Handler func(ctx context.Context, msg *Message) error

// Producer publishes typed payloads on a topic.
type Producer interface {
	// Send publishes payload on topic. attrs may be nil; the topic attribute is
	// always set and cannot be overridden.
	Send(ctx context.Context, topic Topic, payload interface{}, attrs map[string]string) (string, error)
}

// JSONProducer encodes payloads as JSON and publishes them through a Publisher.
type JSONProducer struct {
	pub Publisher
}

// NewProducer wraps a transport publisher.
func NewProducer(pub Publisher) *JSONProducer {
	return &JSONProducer{pub: pub}
}

// Send implements Producer.
func (p *JSONProducer) Send(ctx context.Context, topic Topic, payload interface{}, attrs map[string]string) (string, error) {
	if !topic.Valid() {
		return "", fmt.Errorf("send: unknown topic %q", topic)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("send: encoding %s payload: %w", topic, err)
	}
	attributes := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		attributes[k] = v
	}
	attributes[AttrTopic] = string(topic)

	id, err := p.pub.Publish(ctx, &Message{
		Body:       body,
		Attributes: attributes,
	})
	if err != nil {
		return "", fmt.Errorf("send: publishing to %s: %w", topic, err)
	}
	return id, nil
}

var _ Producer = (*JSONProducer)(nil)
