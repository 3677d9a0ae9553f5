package awsbatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdkbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"github.com/3leaps/geneflow/pkg/batch"
)

// TagJobID is the tag carrying the pipeline job id on submitted tasks.
const TagJobID = "geneflow-job-id"

// api is the subset of the AWS Batch client used here.
type api interface {
	DescribeJobQueues(ctx context.Context, in *sdkbatch.DescribeJobQueuesInput, optFns ...func(*sdkbatch.Options)) (*sdkbatch.DescribeJobQueuesOutput, error)
	ListJobs(ctx context.Context, in *sdkbatch.ListJobsInput, optFns ...func(*sdkbatch.Options)) (*sdkbatch.ListJobsOutput, error)
	SubmitJob(ctx context.Context, in *sdkbatch.SubmitJobInput, optFns ...func(*sdkbatch.Options)) (*sdkbatch.SubmitJobOutput, error)
}

// Client implements batch.Client.
type Client struct {
	api           api
	jobDefinition string
}

var _ batch.Client = (*Client)(nil)

// New creates a client. No network calls are made; bad credentials surface
// on the first request.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sdkbatch.NewFromConfig(awsCfg, func(o *sdkbatch.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Client{api: client, jobDefinition: cfg.JobDefinition}, nil
}

// ListPools returns every job queue visible to the credentials.
func (c *Client) ListPools(ctx context.Context) ([]batch.Pool, error) {
	var pools []batch.Pool
	pages := sdkbatch.NewDescribeJobQueuesPaginator(c.api, &sdkbatch.DescribeJobQueuesInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe job queues: %w", err)
		}
		for _, q := range page.JobQueues {
			pools = append(pools, batch.Pool{ID: aws.ToString(q.JobQueueName), State: string(q.State)})
		}
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	return pools, nil
}

// CreateJob reports batch.ErrJobExists when any Batch job named after the
// job id is already present in the queue. Otherwise there is nothing to
// create: the job comes into being with its first task.
func (c *Client) CreateJob(ctx context.Context, job batch.JobSpec) error {
	found, err := c.jobNamed(ctx, job.PoolID, job.ID+"*")
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if found {
		return batch.ErrJobExists
	}
	return nil
}

// AddTask submits the task as a Batch job named after the task id.
func (c *Client) AddTask(ctx context.Context, task batch.TaskSpec) error {
	found, err := c.jobNamed(ctx, task.PoolID, task.ID)
	if err != nil {
		return fmt.Errorf("add task %s: %w", task.ID, err)
	}
	if found {
		return batch.ErrTaskExists
	}

	env := make([]types.KeyValuePair, 0, len(task.Environment))
	for k, v := range task.Environment {
		env = append(env, types.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}
	sort.Slice(env, func(i, j int) bool { return aws.ToString(env[i].Name) < aws.ToString(env[j].Name) })

	_, err = c.api.SubmitJob(ctx, &sdkbatch.SubmitJobInput{
		JobName:       aws.String(task.ID),
		JobQueue:      aws.String(task.PoolID),
		JobDefinition: aws.String(c.jobDefinition),
		ContainerOverrides: &types.ContainerOverrides{
			Command:     task.CommandLine,
			Environment: env,
		},
		Tags: map[string]string{TagJobID: task.JobID},
	})
	if err != nil {
		return fmt.Errorf("submit task %s: %w", task.ID, err)
	}
	return nil
}

// jobNamed reports whether a job whose name matches pattern exists in queue,
// in any status. A trailing '*' matches by prefix.
func (c *Client) jobNamed(ctx context.Context, queue, pattern string) (bool, error) {
	out, err := c.api.ListJobs(ctx, &sdkbatch.ListJobsInput{
		JobQueue:   aws.String(queue),
		Filters:    []types.KeyValuesPair{{Name: aws.String("JOB_NAME"), Values: []string{pattern}}},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list jobs: %w", err)
	}
	return len(out.JobSummaryList) > 0, nil
}
