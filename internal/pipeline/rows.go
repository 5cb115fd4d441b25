package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/commands"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/rs/zerolog"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Summary counts row outcomes for one file.
// Total = Succeeded + Failed + Unaccounted.
type Summary struct {
	Total       int
	Succeeded   int
	Failed      int
	Unaccounted int

	// Fault is the error that stopped the stream early, if any.
	Fault error
}

// RowProcessor streams CSV rows through the command dispatcher.
type RowProcessor struct {
	dispatcher CommandDispatcher
	results    jobs.ResultStore
	producer   events.Producer
	log        zerolog.Logger
	now        func() time.Time
}

// NewRowProcessor creates a row processor.
func NewRowProcessor(dispatcher CommandDispatcher, results jobs.ResultStore, producer events.Producer, log zerolog.Logger) *RowProcessor {
	return &RowProcessor{
		dispatcher: dispatcher,
		results:    results,
		producer:   producer,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process executes every data row of r in file order, acting as userID.
// Row failures are counted and never stop the loop. A read error or context
// cancellation stops it and is returned in Summary.Fault.
func (p *RowProcessor) Process(ctx context.Context, r io.Reader, jobID, userID string) Summary {
	log := p.log.With().Str("job_id", jobID).Logger()
	var sum Summary

	reader, err := newRowReader(r)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			sum.Fault = fmt.Errorf("reading header: %w", err)
		}
		return sum
	}

	for {
		record, err := reader.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sum.Fault = err
			break
		}

		sum.Total++
		line := sum.Total
		if err := ctx.Err(); err != nil {
			sum.Unaccounted++
			sum.Fault = err
			break
		}

		res := p.dispatcher.Dispatch(ctx, record, jobID, userID, line)
		result := &jobs.CommandResult{
			JobID:       jobID,
			CommandType: res.CommandType,
			LineNumber:  line,
			CreatedAt:   p.now(),
		}
		if res.Success {
			sum.Succeeded++
			result.Status = jobs.CommandStatusSuccess
		} else {
			sum.Failed++
			result.Status = jobs.CommandStatusFailed
			result.ErrorMessage = res.Error
		}
		p.persist(ctx, log, result)
	}

	log.Info().
		Int("total", sum.Total).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("unaccounted", sum.Unaccounted).
		AnErr("fault", sum.Fault).
		Msg("Finished streaming CSV rows")
	return sum
}

// persist stores a row result, falling back to the persist-failed topic.
func (p *RowProcessor) persist(ctx context.Context, log zerolog.Logger, result *jobs.CommandResult) {
	err := p.results.SaveResult(ctx, result)
	if err == nil {
		return
	}
	log.Error().Err(err).Int("line", result.LineNumber).Msg("Failed to persist command result")

	payload := events.CommandResultPersistFailed{
		JobID:        result.JobID,
		CommandType:  result.CommandType,
		LineNumber:   result.LineNumber,
		Status:       string(result.Status),
		ErrorMessage: result.ErrorMessage,
		Cause:        err.Error(),
	}
	if _, sendErr := p.producer.Send(ctx, events.TopicCommandResultPersistFailed, payload, map[string]string{events.AttrJobID: result.JobID}); sendErr != nil {
		log.Error().Err(sendErr).Int("line", result.LineNumber).Msg("Failed to report unpersisted command result")
	}
}

// rowReader yields header-keyed records from a CSV stream.
type rowReader struct {
	csv    *csv.Reader
	header []string
}

func newRowReader(r io.Reader) (*rowReader, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && string(prefix) == string(utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, err
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	for {
		header, err := cr.Read()
		if err != nil {
			return nil, err
		}
		if blank(header) {
			continue
		}
		for i := range header {
			header[i] = strings.TrimSpace(header[i])
		}
		return &rowReader{csv: cr, header: header}, nil
	}
}

// next returns the next non-blank record. Columns missing from a short row are absent.
func (r *rowReader) next() (commands.Record, error) {
	for {
		fields, err := r.csv.Read()
		if err != nil {
			return nil, err
		}
		if blank(fields) {
			continue
		}

		record := make(commands.Record, len(r.header))
		for i, name := range r.header {
			if name == "" || i >= len(fields) {
				continue
			}
			record[name] = fields[i]
		}
		return record, nil
	}
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
