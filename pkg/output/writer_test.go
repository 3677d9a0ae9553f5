package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/geneflow/pkg/jobregistry"
)

const testJobID = "3f1c9a2e-8d4b-4c6a-9e2f-0b1d2c3e4f5a"

func decodeRecord(t *testing.T, line []byte) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	return record
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
	assert.Equal(t, "s3", w.provider)
}

func TestJSONLWriter_WriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	out := &OutcomeRecord{
		Handler: "submission",
		EventID: "evt-1",
		JobID:   testJobID,
		Status:  "processing",
	}
	require.NoError(t, w.WriteOutcome(context.Background(), out))

	record := decodeRecord(t, buf.Bytes())
	assert.Equal(t, TypeOutcome, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, "s3", record.Provider)
	assert.False(t, record.TS.IsZero())

	var data OutcomeRecord
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.Equal(t, *out, data)
}

func TestJSONLWriter_WriteOutcome_Skipped(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "file")

	require.NoError(t, w.WriteOutcome(context.Background(), &OutcomeRecord{
		Handler: "notification",
		EventID: "evt-2",
		Skipped: true,
		Reason:  "container rawsequences is not results",
	}))

	record := decodeRecord(t, buf.Bytes())
	var raw map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &raw))
	assert.Equal(t, true, raw["skipped"])
	assert.NotContains(t, raw, "status")
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "job_id")
}

func TestJSONLWriter_WriteJob(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job := jobregistry.NewRecord(testJobID, "alice@example.com", created)
	require.NoError(t, w.WriteJob(context.Background(), job))

	record := decodeRecord(t, buf.Bytes())
	assert.Equal(t, TypeJob, record.Type)

	// The payload keeps the metadata.json field names.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &raw))
	assert.Equal(t, testJobID, raw["jobId"])
	assert.Equal(t, "uploaded", raw["status"])
	assert.Equal(t, "alice@example.com", raw["userEmail"])

	var data jobregistry.JobRecord
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.True(t, created.Equal(data.CreatedAt))
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	errRec := &ErrorRecord{
		Code:    ErrCodeInvalidEvent,
		Message: "decode event: unexpected end of JSON input",
		Source:  "events.json",
	}
	require.NoError(t, w.WriteError(context.Background(), errRec))

	record := decodeRecord(t, buf.Bytes())
	assert.Equal(t, TypeError, record.Type)

	var errData ErrorRecord
	require.NoError(t, json.Unmarshal(record.Data, &errData))
	assert.Equal(t, ErrCodeInvalidEvent, errData.Code)
	assert.Equal(t, "events.json", errData.Source)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	sum := &SummaryRecord{
		Events:        5,
		Processed:     3,
		Skipped:       1,
		Failed:        1,
		Duration:      30 * time.Second,
		DurationHuman: "30s",
	}
	require.NoError(t, w.WriteSummary(context.Background(), sum))

	record := decodeRecord(t, buf.Bytes())
	assert.Equal(t, TypeSummary, record.Type)

	var sumData SummaryRecord
	require.NoError(t, json.Unmarshal(record.Data, &sumData))
	assert.Equal(t, *sum, sumData)
}

func TestJSONLWriter_WritePreflight(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	rec := &PreflightRecord{
		Mode: "read-safe",
		Results: []PreflightCheckResult{
			{Capability: "raw.list", Allowed: true, Method: "List"},
			{Capability: "refs.list", Allowed: false, ErrorCode: ErrCodeAccessDenied},
		},
	}
	require.NoError(t, w.WritePreflight(context.Background(), rec))

	record := decodeRecord(t, buf.Bytes())
	assert.Equal(t, TypePreflight, record.Type)

	var data PreflightRecord
	require.NoError(t, json.Unmarshal(record.Data, &data))
	require.Len(t, data.Results, 2)
	assert.Equal(t, "refs.list", data.Denied()[0].Capability)
}

func TestPreflightRecord_Denied(t *testing.T) {
	rec := &PreflightRecord{Results: []PreflightCheckResult{
		{Capability: "raw.list", Allowed: true},
		{Capability: "raw.write", Allowed: false},
		{Capability: "results.sign", Allowed: false},
	}}
	denied := rec.Denied()
	require.Len(t, denied, 2)
	assert.Equal(t, "raw.write", denied[0].Capability)
	assert.Equal(t, "results.sign", denied[1].Capability)

	assert.Empty(t, (&PreflightRecord{}).Denied())
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	require.NoError(t, w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "submission"}))
	require.NoError(t, w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "notification"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	require.NoError(t, w.Close())

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "submission"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "submission", EventID: "evt"})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteOutcome(ctx, &OutcomeRecord{Handler: "submission"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "run-123", "s3")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "submission"})
	require.Error(t, err)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

func TestJSONLWriter_MarshalFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	err := w.WriteError(context.Background(), &ErrorRecord{Code: ErrCodeInternal, Details: make(chan int)})
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "marshal_data", writeErr.Op)
	assert.Empty(t, buf.String())
}

type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123", "s3")

	require.NoError(t, w.WriteOutcome(context.Background(), &OutcomeRecord{
		Handler: "submission",
		JobID:   testJobID,
		Status:  "processing",
	}))

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	require.Len(t, lines, 1)
	record := decodeRecord(t, []byte(lines[0]))
	assert.Equal(t, TypeOutcome, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "run-123", "s3")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Handler: "submission"})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestRecord_JSONSerialization(t *testing.T) {
	record := Record{
		Type:     TypeOutcome,
		TS:       time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		RunID:    "abc123",
		Provider: "s3",
		Data:     json.RawMessage(`{"handler":"intake"}`),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, TypeOutcome, parsed["type"])
	assert.Equal(t, "abc123", parsed["run_id"])
	assert.Equal(t, "s3", parsed["provider"])
	assert.NotNil(t, parsed["ts"])
	assert.NotNil(t, parsed["data"])
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(ErrorRecord{Code: ErrCodeInternal, Message: "Something went wrong"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "job_id")
	assert.NotContains(t, string(data), "source")
	assert.NotContains(t, string(data), "details")
}

func BenchmarkJSONLWriter_WriteOutcome(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123", "s3")
	out := &OutcomeRecord{
		Handler: "submission",
		EventID: "evt-1",
		JobID:   testJobID,
		Status:  "processing",
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteOutcome(ctx, out)
	}
}
