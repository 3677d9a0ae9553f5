package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/pkg/batch"
	"github.com/3leaps/geneflow/pkg/event"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/match"
	"github.com/3leaps/geneflow/pkg/provider"
	"github.com/3leaps/geneflow/pkg/taskplan"
)

// InputPattern selects the object that starts a job.
const InputPattern = "*/" + jobregistry.InputName

// ErrBatchConnection marks failures to reach the batch service.
var ErrBatchConnection = errors.New("batch service connection failed, check account credentials")

// Submitter starts the alignment task for a stored input.
type Submitter struct {
	conn     Connector
	settings Settings
	route    *event.Route
	refs     *match.Matcher
	opts     options
}

func NewSubmitter(conn Connector, settings Settings, opts ...Option) (*Submitter, error) {
	settings = settings.withDefaults()
	route, err := event.NewRoute(settings.Containers.Raw, InputPattern)
	if err != nil {
		return nil, err
	}
	refs, err := match.Include(settings.ReferencePatterns...)
	if err != nil {
		return nil, fmt.Errorf("reference patterns: %w", err)
	}
	return &Submitter{
		conn:     conn,
		settings: settings,
		route:    route,
		refs:     refs,
		opts:     newOptions(opts),
	}, nil
}

// Handle processes one storage event.
//
// Events that are not a new input are skipped without side effects, as are
// inputs of jobs that already moved past processing. Redelivered events do
// not create a second task. Any failure after the job id is known is
// recorded on the job.
func (s *Submitter) Handle(ctx context.Context, ev event.StorageEvent) (Outcome, error) {
	out := Outcome{Handler: HandlerSubmission, EventID: ev.ID}
	log := s.opts.logger.With(zap.String("handler", string(HandlerSubmission)), zap.String("event_id", ev.ID))

	ref, err := s.route.Accept(ev)
	if err != nil {
		out.Skipped = true
		out.Reason = skipReason(err)
		log.Info("Ignoring event", zap.String("reason", out.Reason))
		return out, nil
	}
	out.JobID = ref.JobID()
	log = log.With(zap.String("job_id", out.JobID))
	log.Info("Processing input", zap.String("object", ref.String()))

	raw, err := s.submit(ctx, log, out.JobID)
	defer closeStorage(log, AreaRaw, raw)

	var skip *event.SkipError
	switch {
	case errors.As(err, &skip):
		out.Skipped = true
		out.Reason = skip.Reason
		log.Info("Skipping job", zap.String("reason", skip.Reason))
		return out, nil
	case err != nil:
		log.Error("Submission failed", zap.Error(err))
		s.recordFailure(ctx, log, raw, out.JobID, err)
		out.Status = jobregistry.JobStateError
		out.Error = err.Error()
		return out, err
	}

	out.Status = jobregistry.JobStateProcessing
	return out, nil
}

// submit runs the submission steps. The raw area is returned, possibly nil,
// so the caller can record a failure with it.
func (s *Submitter) submit(ctx context.Context, log *zap.Logger, jobID string) (Storage, error) {
	if err := s.conn.Validate(HandlerSubmission); err != nil {
		return nil, err
	}

	raw, err := s.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return nil, fmt.Errorf("open raw storage: %w", err)
	}

	now := s.opts.now()
	record, err := jobregistry.NewStore(raw).Update(ctx, jobID, func(r *jobregistry.JobRecord) error {
		return r.Transition(jobregistry.JobStateProcessing, now)
	})
	if errors.Is(err, jobregistry.ErrBackwardTransition) {
		return raw, &event.SkipError{Reason: err.Error()}
	}
	if err != nil {
		return raw, fmt.Errorf("mark job processing: %w", err)
	}
	log.Info("Updated job record", zap.String("status", record.Status.String()))

	client, err := s.connectBatch(ctx, log)
	if err != nil {
		return raw, err
	}

	err = client.CreateJob(ctx, batch.JobSpec{ID: jobID, PoolID: s.settings.PoolID})
	switch {
	case errors.Is(err, batch.ErrJobExists):
		log.Info("Batch job already exists")
	case err != nil:
		return raw, fmt.Errorf("create batch job: %w", err)
	default:
		log.Info("Created batch job", zap.String("pool_id", s.settings.PoolID))
	}

	plan, err := s.buildPlan(ctx, log, raw, jobID)
	if err != nil {
		return raw, err
	}

	task := batch.TaskSpec{
		ID:          batch.TaskID(jobID),
		JobID:       jobID,
		PoolID:      s.settings.PoolID,
		CommandLine: plan.CommandLine(),
	}
	if s.settings.WorkDir != "" {
		task.Environment = map[string]string{
			s.settings.WorkDirEnv: path.Join(s.settings.WorkDir, jobID),
		}
	}
	err = client.AddTask(ctx, task)
	switch {
	case errors.Is(err, batch.ErrTaskExists):
		log.Info("Batch task already exists", zap.String("task_id", task.ID))
	case err != nil:
		return raw, fmt.Errorf("add batch task: %w", err)
	default:
		log.Info("Submitted batch task", zap.String("task_id", task.ID))
	}
	return raw, nil
}

func (s *Submitter) connectBatch(ctx context.Context, log *zap.Logger) (batch.Client, error) {
	client, err := s.conn.Batch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchConnection, err)
	}
	pools, err := client.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBatchConnection, err)
	}
	log.Info("Connected to batch service", zap.Int("pools", len(pools)))

	if batch.HasPool(pools, s.settings.PoolID) {
		log.Info("Found pool", zap.String("pool_id", s.settings.PoolID))
	} else {
		ids := make([]string, 0, len(pools))
		for _, p := range pools {
			ids = append(ids, p.ID)
		}
		log.Warn("Configured pool not found", zap.String("pool_id", s.settings.PoolID), zap.Strings("available", ids))
	}
	return client, nil
}

// Plan builds the task plan for jobID, including fresh signed URLs, without
// touching the job record or the batch service.
func (s *Submitter) Plan(ctx context.Context, jobID string) (*taskplan.Plan, error) {
	if !jobregistry.ValidJobID(jobID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	if err := s.conn.Validate(HandlerSubmission); err != nil {
		return nil, err
	}
	raw, err := s.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return nil, fmt.Errorf("open raw storage: %w", err)
	}
	defer closeStorage(s.opts.logger, AreaRaw, raw)

	return s.buildPlan(ctx, s.opts.logger.With(zap.String("job_id", jobID)), raw, jobID)
}

func (s *Submitter) buildPlan(ctx context.Context, log *zap.Logger, raw Storage, jobID string) (*taskplan.Plan, error) {
	rawSigner, err := signer(AreaRaw, raw)
	if err != nil {
		return nil, err
	}
	inputURL, err := rawSigner.PresignGet(ctx, jobregistry.InputKey(jobID), s.settings.InputURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign input url: %w", err)
	}
	log.Info("Signed input url", zap.Duration("ttl", s.settings.InputURLTTL))

	refs, err := s.referenceURLs(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Found reference files", zap.Int("count", len(refs)))

	results, err := s.conn.Storage(ctx, AreaResults)
	if err != nil {
		return nil, fmt.Errorf("open results storage: %w", err)
	}
	defer closeStorage(log, AreaResults, results)

	resultsSigner, err := signer(AreaResults, results)
	if err != nil {
		return nil, err
	}
	outputURL, err := resultsSigner.PresignPut(ctx, jobregistry.OutputKey(jobID), s.settings.OutputURLTTL)
	if err != nil {
		return nil, fmt.Errorf("sign output url: %w", err)
	}

	plan, err := taskplan.New(taskplan.Spec{
		InputURL:   inputURL,
		References: refs,
		OutputURL:  outputURL,
		WorkDirEnv: s.settings.WorkDirEnv,
		Toolchain:  s.settings.Toolchain,
	})
	if err != nil {
		return nil, fmt.Errorf("build task plan: %w", err)
	}
	return plan, nil
}

// referenceURLs lists the reference area and signs a read URL for every
// matching object.
func (s *Submitter) referenceURLs(ctx context.Context) ([]taskplan.Reference, error) {
	refs, err := s.conn.Storage(ctx, AreaRefs)
	if err != nil {
		return nil, fmt.Errorf("open reference storage: %w", err)
	}
	defer closeStorage(s.opts.logger, AreaRefs, refs)

	refSigner, err := signer(AreaRefs, refs)
	if err != nil {
		return nil, err
	}

	var out []taskplan.Reference
	opts := provider.ListOptions{Prefix: s.settings.ReferencePrefix}
	for {
		page, err := refs.List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list reference files: %w", err)
		}
		for _, obj := range page.Objects {
			name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.settings.ReferencePrefix), "/")
			if name == "" || strings.HasSuffix(obj.Key, "/") || !s.refs.Match(name) {
				continue
			}
			url, err := refSigner.PresignGet(ctx, obj.Key, s.settings.InputURLTTL)
			if err != nil {
				return nil, fmt.Errorf("sign reference url %s: %w", obj.Key, err)
			}
			out = append(out, taskplan.Reference{Name: name, URL: url})
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			break
		}
		opts.ContinuationToken = page.ContinuationToken
	}
	return out, nil
}

// recordFailure marks the job as failed. Errors are logged only.
func (s *Submitter) recordFailure(ctx context.Context, log *zap.Logger, raw Storage, jobID string, cause error) {
	if raw == nil {
		var err error
		raw, err = s.conn.Storage(ctx, AreaRaw)
		if err != nil {
			log.Error("Failed to record job error", zap.Error(err))
			return
		}
		defer closeStorage(log, AreaRaw, raw)
	}

	now := s.opts.now()
	_, err := jobregistry.NewStore(raw).Update(ctx, jobID, func(r *jobregistry.JobRecord) error {
		r.Fail(cause.Error(), now)
		return nil
	})
	if err != nil {
		log.Error("Failed to record job error", zap.Error(err))
		return
	}
	log.Info("Recorded job error")
}

func skipReason(err error) string {
	var skip *event.SkipError
	if errors.As(err, &skip) {
		return skip.Reason
	}
	return err.Error()
}
