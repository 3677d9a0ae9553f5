// Package batch describes the remote compute service that runs alignment
// tasks. A job groups the tasks of one pipeline job and runs on a pool.
package batch

import (
	"context"
	"errors"
)

var (
	// ErrJobExists is returned by CreateJob when the job is already known.
	// Callers treat it as success so that redelivered events are harmless.
	ErrJobExists = errors.New("batch job already exists")

	// ErrTaskExists is returned by AddTask when the task id is taken.
	ErrTaskExists = errors.New("batch task already exists")
)

// Pool is a compute pool (an AWS Batch job queue).
type Pool struct {
	ID    string `json:"id"`
	State string `json:"state,omitempty"`
}

// JobSpec identifies a job and the pool its tasks run on.
type JobSpec struct {
	ID     string
	PoolID string
}

// TaskSpec is one unit of work inside a job.
type TaskSpec struct {
	ID          string
	JobID       string
	PoolID      string
	CommandLine []string
	Environment map[string]string
}

// Client submits work to the compute service.
type Client interface {
	ListPools(ctx context.Context) ([]Pool, error)
	CreateJob(ctx context.Context, job JobSpec) error
	AddTask(ctx context.Context, task TaskSpec) error
}

// HasPool reports whether id names one of pools.
func HasPool(pools []Pool, id string) bool {
	for _, p := range pools {
		if p.ID == id {
			return true
		}
	}
	return false
}

// TaskID is the id of the single alignment task of a job.
func TaskID(jobID string) string {
	return jobID + "-task"
}
