package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/geneflow/pkg/jobregistry"
)

func TestJobs_Get(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	jobID := env.upload(t, "alice@example.com")
	jobs := NewJobs(env)

	r, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.JobStateUploaded, r.Status)

	_, err = jobs.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidJobID)

	_, err = jobs.Get(ctx, jobregistry.NewJobID())
	assert.ErrorIs(t, err, jobregistry.ErrJobNotFound)
}

func TestJobs_ListNewestFirst(t *testing.T) {
	env := newEnv(t)
	first := env.upload(t, "")
	env.clock.advance(time.Minute)
	second := env.upload(t, "")

	list, err := NewJobs(env).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].JobID)
	assert.Equal(t, first, list[1].JobID)
}
