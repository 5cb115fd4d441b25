package inmemory

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/splitledger/internal/events"
	"github.com/rs/zerolog"
)

func testQueue(maxAttempts int) *Queue {
	return NewQueue(Config{
		BufferSize:  10,
		Workers:     2,
		MaxAttempts: maxAttempts,
		Backoff:     5 * time.Millisecond,
	}, zerolog.New(io.Discard))
}

func TestQueue_DeliversPublishedMessage(t *testing.T) {
	q := testQueue(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *events.Message, 1)
	if err := q.Start(ctx, func(ctx context.Context, msg *events.Message) error {
		got <- msg
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	producer := events.NewProducer(q)
	id, err := producer.Send(ctx, events.TopicProcessingCompleted, events.ProcessingCompleted{JobID: "j1"}, nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg.ID != id {
			t.Errorf("Expected message %s, got %s", id, msg.ID)
		}
		if msg.Topic() != events.TopicProcessingCompleted {
			t.Errorf("Unexpected topic %s", msg.Topic())
		}
		if msg.DeliveryAttempt != 1 {
			t.Errorf("Expected first attempt, got %d", msg.DeliveryAttempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for delivery")
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestQueue_RedeliversUntilHandlerSucceeds(t *testing.T) {
	q := testQueue(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	done := make(chan struct{})
	_ = q.Start(ctx, func(ctx context.Context, msg *events.Message) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	if _, err := q.Publish(ctx, &events.Message{Body: []byte(`{}`)}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for redelivery")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	_ = q.Stop(context.Background())
}

func TestQueue_DeadLettersAfterMaxAttempts(t *testing.T) {
	q := testQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Start(ctx, func(ctx context.Context, msg *events.Message) error {
		panic("handler bug")
	})

	if _, err := q.Publish(ctx, &events.Message{Body: []byte(`{}`)}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(q.DeadLetters()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for dead letter")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if dl := q.DeadLetters(); dl[0].DeliveryAttempt != 2 {
		t.Errorf("Expected 2 attempts before dead-lettering, got %d", dl[0].DeliveryAttempt)
	}
	_ = q.Stop(context.Background())
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := testQueue(1)
	_ = q.Stop(context.Background())

	if _, err := q.Publish(context.Background(), &events.Message{}); err == nil {
		t.Error("Expected error publishing to a closed queue")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("Expected error starting a closed queue")
	}
}

func TestQueue_HandlersPublishBeyondBufferSize(t *testing.T) {
	q := testQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const children, leavesPerChild = 1000, 3
	var leaves int32
	done := make(chan struct{})
	_ = q.Start(ctx, func(ctx context.Context, msg *events.Message) error {
		switch string(msg.Body) {
		case "root":
			for i := 0; i < children; i++ {
				if _, err := q.Publish(ctx, &events.Message{Body: []byte("child")}); err != nil {
					return err
				}
			}
		case "child":
			for i := 0; i < leavesPerChild; i++ {
				if _, err := q.Publish(ctx, &events.Message{Body: []byte("leaf")}); err != nil {
					return err
				}
			}
		case "leaf":
			if atomic.AddInt32(&leaves, 1) == children*leavesPerChild {
				close(done)
			}
		}
		return nil
	})

	if _, err := q.Publish(ctx, &events.Message{Body: []byte("root")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Handled %d of %d leaf messages, %d still pending", atomic.LoadInt32(&leaves), children*leavesPerChild, q.Pending())
	}
	if got := q.Pending(); got != 0 {
		t.Errorf("Expected empty queue, %d pending", got)
	}
	_ = q.Stop(context.Background())
}

func TestQueue_PublishBeforeStartIsDelivered(t *testing.T) {
	q := testQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 25; i++ {
		if _, err := q.Publish(ctx, &events.Message{Body: []byte(`{}`)}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	var handled int32
	done := make(chan struct{})
	_ = q.Start(ctx, func(ctx context.Context, msg *events.Message) error {
		if atomic.AddInt32(&handled, 1) == 25 {
			close(done)
		}
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Handled %d of 25 messages", atomic.LoadInt32(&handled))
	}
	_ = q.Stop(context.Background())
}
