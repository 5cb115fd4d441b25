package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/splitledger/internal/commands"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/pipeline"
)

// MockBlobStore serves files from memory.
type MockBlobStore struct {
	mu         sync.Mutex
	Files      map[string]string
	Opened     []string
	OpenErr    error
	PresignErr error
}

func (m *MockBlobStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Opened = append(m.Opened, bucket+"/"+key)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	body, ok := m.Files[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *MockBlobStore) PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	if m.PresignErr != nil {
		return "", m.PresignErr
	}
	return "https://storage.example.com/" + bucket + "/" + key + "?ttl=" + ttl.String(), nil
}

// MockDispatcher returns results from DispatchFunc and records each call.
type MockDispatcher struct {
	mu           sync.Mutex
	DispatchFunc func(record commands.Record, line int) commands.Result
	Records      []commands.Record
	Users        []string
}

func (m *MockDispatcher) Dispatch(ctx context.Context, record commands.Record, jobID, userID string, line int) commands.Result {
	m.mu.Lock()
	m.Records = append(m.Records, record)
	m.Users = append(m.Users, userID)
	m.mu.Unlock()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(record, line)
	}
	return commands.Result{Success: true, CommandType: record.Get(commands.ColCommandType)}
}

// succeedUnless fails rows whose commandType equals failType.
func succeedUnless(failType string) func(commands.Record, int) commands.Result {
	return func(record commands.Record, line int) commands.Result {
		t := record.Get(commands.ColCommandType)
		if t == failType {
			return commands.Result{CommandType: t, Error: "boom"}
		}
		return commands.Result{Success: true, CommandType: t}
	}
}

// MockProducer records sent payloads.
type MockProducer struct {
	mu      sync.Mutex
	Sent    []sentEvent
	SendErr map[events.Topic]error
}

type sentEvent struct {
	Topic   events.Topic
	Payload []byte
	Attrs   map[string]string
}

func (m *MockProducer) Send(ctx context.Context, topic events.Topic, payload interface{}, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.SendErr[topic]; err != nil {
		return "", err
	}
	body, _ := json.Marshal(payload)
	m.Sent = append(m.Sent, sentEvent{Topic: topic, Payload: body, Attrs: attrs})
	return "msg", nil
}

func (m *MockProducer) onTopic(topic events.Topic) []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentEvent
	for _, e := range m.Sent {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// failingResults rejects every SaveResult.
type failingResults struct {
	jobs.ResultStore
	err error
}

func (f *failingResults) SaveResult(ctx context.Context, result *jobs.CommandResult) error {
	return f.err
}

// MockRecorder collects recorded runs.
type MockRecorder struct {
	Runs []pipeline.Run
	Err  error
}

func (m *MockRecorder) RecordRun(ctx context.Context, run pipeline.Run) error {
	m.Runs = append(m.Runs, run)
	return m.Err
}
