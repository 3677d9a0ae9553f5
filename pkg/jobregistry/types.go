// Package jobregistry holds the job metadata record shared by the pipeline
// handlers and the status state machine that governs it.
package jobregistry

import (
	"errors"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a sequencing job.
//
// NOTE: These values are persisted in metadata.json and are part of the
// stable storage contract.
type JobState string

const (
	JobStateUploaded   JobState = "uploaded"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateError      JobState = "error"
)

var (
	// ErrBackwardTransition reports a status change that would move a job
	// back along uploaded -> processing -> completed, or out of error.
	ErrBackwardTransition = errors.New("backward status transition")

	// ErrMissingStartTime reports completing a job that was never started.
	ErrMissingStartTime = errors.New("job has no start time")

	// ErrInvalidState reports a status value outside the known set.
	ErrInvalidState = errors.New("invalid job state")
)

// rank orders the forward states. The error state is handled separately.
var rank = map[JobState]int{
	"":                 -1,
	JobStateUploaded:   0,
	JobStateProcessing: 1,
	JobStateCompleted:  2,
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateUploaded, JobStateProcessing, JobStateCompleted, JobStateError:
		return true
	}
	return false
}

// Terminal reports whether no further forward progress is possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateError
}

func (s JobState) String() string { return string(s) }

// CanTransition reports whether a record in state from may move to state to.
//
// Re-entering the current state is allowed so that redelivered events are
// harmless. Error is reachable from anywhere and never left.
func CanTransition(from, to JobState) bool {
	if !to.Valid() {
		return false
	}
	if from == JobStateError {
		return to == JobStateError
	}
	if to == JobStateError {
		return true
	}
	fr, ok := rank[from]
	if !ok {
		return false
	}
	return rank[to] >= fr
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	JobID string
	From  JobState
	To    JobState
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %v", e.JobID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// JobRecord is the metadata sidecar stored next to a job's input.
//
// Field names follow the storage contract and are shared with any other
// reader of metadata.json.
type JobRecord struct {
	JobID     string    `json:"jobId"`
	Status    JobState  `json:"status"`
	UserEmail string    `json:"userEmail"`
	CreatedAt time.Time `json:"createdAt"`

	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`

	Error     string     `json:"error,omitempty"`
	ErrorTime *time.Time `json:"errorTime,omitempty"`
}

// NewRecord returns the record written at intake.
func NewRecord(jobID, email string, now time.Time) *JobRecord {
	return &JobRecord{
		JobID:     jobID,
		Status:    JobStateUploaded,
		UserEmail: email,
		CreatedAt: now.UTC(),
	}
}

// Transition moves the record to state to and stamps the timestamp owned by
// that transition. startTime is written once; a repeated completion keeps the
// first endTime.
func (r *JobRecord) Transition(to JobState, now time.Time) error {
	if !to.Valid() {
		return &TransitionError{JobID: r.JobID, From: r.Status, To: to, Err: ErrInvalidState}
	}
	if !CanTransition(r.Status, to) {
		return &TransitionError{JobID: r.JobID, From: r.Status, To: to, Err: ErrBackwardTransition}
	}
	now = now.UTC()

	switch to {
	case JobStateProcessing:
		if r.StartTime == nil {
			r.StartTime = &now
		}
	case JobStateCompleted:
		if r.Status == JobStateCompleted && r.EndTime != nil {
			return nil
		}
		if r.StartTime == nil {
			return &TransitionError{JobID: r.JobID, From: r.Status, To: to, Err: ErrMissingStartTime}
		}
		r.EndTime = &now
		d := now.Sub(*r.StartTime).Seconds()
		r.DurationSeconds = &d
	case JobStateError:
		r.ErrorTime = &now
	}

	r.Status = to
	return nil
}

// Duration returns the run time in seconds, or zero before completion.
func (r *JobRecord) Duration() float64 {
	if r.DurationSeconds == nil {
		return 0
	}
	return *r.DurationSeconds
}

// Fail moves the record into the error state with msg.
func (r *JobRecord) Fail(msg string, now time.Time) {
	// error is reachable from every state
	_ = r.Transition(JobStateError, now)
	r.Error = msg
}
