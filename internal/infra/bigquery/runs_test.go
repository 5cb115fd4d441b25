package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/pipeline"
)

func TestNewJobRunRow(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		run          pipeline.Run
		wantDuration bigquery.NullInt64
		wantFaultLen int
	}{
		{
			name:         "finished run",
			run:          pipeline.Run{JobID: "j1", Status: jobs.JobStatusCompleted, Total: 3, Succeeded: 3, StartedAt: started, CompletedAt: started.Add(1500 * time.Millisecond)},
			wantDuration: bigquery.NullInt64{Int64: 1500, Valid: true},
		},
		{
			name: "no start time",
			run:  pipeline.Run{JobID: "j2", Status: jobs.JobStatusFailed, CompletedAt: started},
		},
		{
			name:         "long fault is truncated",
			run:          pipeline.Run{JobID: "j3", Status: jobs.JobStatusFailed, StreamFault: strings.Repeat("x", 5000), StartedAt: started, CompletedAt: started},
			wantDuration: bigquery.NullInt64{Int64: 0, Valid: true},
			wantFaultLen: maxFaultLen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := newJobRunRow(tt.run)
			if row.JobID != tt.run.JobID || row.Status != string(tt.run.Status) {
				t.Errorf("unexpected row: %+v", row)
			}
			if row.DurationMS != tt.wantDuration {
				t.Errorf("DurationMS = %+v, want %+v", row.DurationMS, tt.wantDuration)
			}
			if len(row.StreamFault) != tt.wantFaultLen {
				t.Errorf("StreamFault length = %d, want %d", len(row.StreamFault), tt.wantFaultLen)
			}
		})
	}
}

func TestJobRunRowSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(JobRunRow{})
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}

	fields := make(map[string]bigquery.FieldType, len(schema))
	for _, f := range schema {
		fields[f.Name] = f.Type
	}
	want := map[string]bigquery.FieldType{
		"job_id":      bigquery.StringFieldType,
		"finished_ts": bigquery.TimestampFieldType,
		"duration_ms": bigquery.IntegerFieldType,
	}
	for name, typ := range want {
		if fields[name] != typ {
			t.Errorf("field %s has type %q, want %q", name, fields[name], typ)
		}
	}
}
