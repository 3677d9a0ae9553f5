package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/geneflow/pkg/jobregistry"
)

// ErrInvalidJobID reports a job id that is not a canonical UUID.
var ErrInvalidJobID = errors.New("invalid job id")

// Jobs reads job records.
type Jobs struct {
	conn Connector
	opts options
}

func NewJobs(conn Connector, opts ...Option) *Jobs {
	return &Jobs{conn: conn, opts: newOptions(opts)}
}

// Get returns the record of jobID. A missing record wraps
// jobregistry.ErrJobNotFound.
func (j *Jobs) Get(ctx context.Context, jobID string) (*jobregistry.JobRecord, error) {
	if !jobregistry.ValidJobID(jobID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	raw, err := j.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return nil, fmt.Errorf("open raw storage: %w", err)
	}
	defer closeStorage(j.opts.logger, AreaRaw, raw)

	return jobregistry.NewStore(raw).Get(ctx, jobID)
}

// List returns every job record, newest first.
func (j *Jobs) List(ctx context.Context) ([]jobregistry.JobRecord, error) {
	raw, err := j.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return nil, fmt.Errorf("open raw storage: %w", err)
	}
	defer closeStorage(j.opts.logger, AreaRaw, raw)

	return jobregistry.NewStore(raw).List(ctx)
}
