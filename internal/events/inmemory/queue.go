package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/splitledger/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes the in-memory queue.
type Config struct {
	// BufferSize is the capacity of the channel feeding the workers. Publish never
	// blocks: messages beyond it wait in an unbounded backlog.
	BufferSize int
	// Workers is the number of concurrent handlers.
	Workers int
	// MaxAttempts bounds deliveries of a message whose handler keeps failing.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between redeliveries.
	Backoff time.Duration
}

// DefaultConfig mirrors the settings used by the worker.
func DefaultConfig() Config {
	return Config{
		BufferSize:  100,
		Workers:     5,
		MaxAttempts: 5,
		Backoff:     time.Second,
	}
}

// Queue is an in-memory implementation of events.Publisher and events.Consumer.
// It uses Go channels for distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
//
// Handlers publish into the queue that feeds them, so Publish appends to a
// backlog and a pump goroutine moves messages to the workers.
type Queue struct {
	cfg       Config
	msgChan   chan *events.Message
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	started   bool
	log       zerolog.Logger

	backlogMu sync.Mutex
	backlog   []*events.Message
	wake      chan struct{}

	deadMu sync.Mutex
	dead   []*events.Message
}

// NewQueue creates a new in-memory message queue.
func NewQueue(cfg Config, log zerolog.Logger) *Queue {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Queue{
		cfg:       cfg,
		msgChan:   make(chan *events.Message, cfg.BufferSize),
		closeChan: make(chan struct{}),
		wake:      make(chan struct{}, 1),
		log:       log,
	}
}

// Publish implements events.Publisher. It never waits for queue capacity.
func (q *Queue) Publish(ctx context.Context, msg *events.Message) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return "", fmt.Errorf("queue is closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}

	q.backlogMu.Lock()
	q.backlog = append(q.backlog, msg)
	q.backlogMu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return msg.ID, nil
}

// Pending returns the number of published messages not yet handed to a worker.
func (q *Queue) Pending() int {
	q.backlogMu.Lock()
	defer q.backlogMu.Unlock()
	return len(q.backlog) + len(q.msgChan)
}

// pump moves backlog messages to the workers in publish order.
func (q *Queue) pump(ctx context.Context) {
	defer q.wg.Done()

	for {
		msg := q.next()
		if msg == nil {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			case <-q.closeChan:
				return
			}
		}

		select {
		case q.msgChan <- msg:
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		}
	}
}

func (q *Queue) next() *events.Message {
	q.backlogMu.Lock()
	defer q.backlogMu.Unlock()

	if len(q.backlog) == 0 {
		return nil
	}
	msg := q.backlog[0]
	q.backlog[0] = nil
	q.backlog = q.backlog[1:]
	return msg
}

// Start implements events.Consumer.
// The handler is called concurrently, up to Config.Workers at a time.
func (q *Queue) Start(ctx context.Context, handler events.Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue already started")
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.pump(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler events.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case msg := <-q.msgChan:
			if msg == nil {
				return
			}
			q.deliver(ctx, msg, handler)
		}
	}
}

// deliver runs the handler once and schedules a redelivery when it fails.
func (q *Queue) deliver(ctx context.Context, msg *events.Message, handler events.Handler) {
	msg.DeliveryAttempt++
	log := q.log.With().
		Str("message_id", msg.ID).
		Str("topic", string(msg.Topic())).
		Int("attempt", msg.DeliveryAttempt).
		Logger()

	err := safeHandle(ctx, msg, handler)
	if err == nil {
		return
	}

	if msg.DeliveryAttempt >= q.cfg.MaxAttempts {
		log.Error().Err(err).Msg("Message exhausted its delivery attempts")
		q.deadMu.Lock()
		q.dead = append(q.dead, msg)
		q.deadMu.Unlock()
		return
	}

	backoff := time.Duration(msg.DeliveryAttempt) * q.cfg.Backoff
	log.Warn().Err(err).Dur("backoff", backoff).Msg("Message handler failed, redelivering")
	time.AfterFunc(backoff, func() {
		if _, err := q.Publish(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to requeue message")
		}
	})
}

func safeHandle(ctx context.Context, msg *events.Message, handler events.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// DeadLetters returns messages that exhausted their delivery attempts.
func (q *Queue) DeadLetters() []*events.Message {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()

	out := make([]*events.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Stop implements events.Consumer.
// It stops the queue and waits for all in-flight messages to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the queue.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ events.Publisher = (*Queue)(nil)
var _ events.Consumer = (*Queue)(nil)
