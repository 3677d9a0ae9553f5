// Package output provides JSONL output for command results.
//
// Output is structured as typed record envelopes containing handler
// outcomes, job records, preflight checks, errors and summaries. Each line
// is a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: geneflow.<type>.v<version>
const (
	// TypeOutcome identifies handler outcome records.
	TypeOutcome = "geneflow.outcome.v1"

	// TypeJob identifies job metadata records.
	TypeJob = "geneflow.job.v1"

	// TypeError identifies error records.
	TypeError = "geneflow.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "geneflow.summary.v1"

	// TypePreflight identifies preflight capability check records.
	TypePreflight = "geneflow.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "geneflow.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates the records of one command invocation.
	RunID string `json:"run_id"`

	// Provider identifies the storage provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// OutcomeRecord is the data payload for one handled event.
type OutcomeRecord struct {
	Handler string `json:"handler"`
	EventID string `json:"event_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PreflightRecord is the data payload for preflight capability checks.
//
// Preflight records provide an explicit contract for what was checked and
// whether the principal appears to have the required permissions.
type PreflightRecord struct {
	Mode          string                 `json:"mode"`
	ProbeStrategy string                 `json:"probe_strategy,omitempty"`
	ProbePrefix   string                 `json:"probe_prefix,omitempty"`
	Results       []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Denied returns the results that were not allowed.
func (r *PreflightRecord) Denied() []PreflightCheckResult {
	var out []PreflightCheckResult
	for _, res := range r.Results {
		if !res.Allowed {
			out = append(out, res)
		}
	}
	return out
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the whole run, so a
// batch of events yields partial results when some of them fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if known.
	JobID string `json:"job_id,omitempty"`

	// Source names the input that caused the error (file, event id).
	Source string `json:"source,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnsupported indicates the provider lacks the capability.
	ErrCodeUnsupported = "UNSUPPORTED"

	// ErrCodeInvalidEvent indicates an event payload that could not be decoded.
	ErrCodeInvalidEvent = "INVALID_EVENT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Events is the number of events read.
	Events int64 `json:"events"`

	// Processed counts events that reached a handler and succeeded.
	Processed int64 `json:"processed"`

	// Skipped counts events the handler ignored.
	Skipped int64 `json:"skipped"`

	// Failed counts events whose handler returned an error.
	Failed int64 `json:"failed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
