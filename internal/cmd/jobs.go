package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/output"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect job records",
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <jobId>",
	Short: "Print the metadata record of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsListStatus string

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "only jobs in this state (uploaded|processing|completed|error)")
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	jobs := pipeline.NewJobs(newConnector(cfg), pipeline.WithLogger(observability.CLILogger))
	record, err := jobs.Get(ctx, args[0])
	switch {
	case errors.Is(err, pipeline.ErrInvalidJobID):
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	case errors.Is(err, jobregistry.ErrJobNotFound):
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	case err != nil:
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read job record", err)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), cfg.Storage.Provider)
	defer func() { _ = w.Close() }()
	return w.WriteJob(ctx, record)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var status jobregistry.JobState
	if jobsListStatus != "" {
		status = jobregistry.JobState(jobsListStatus)
		if !status.Valid() {
			return exitError(foundry.ExitInvalidArgument, "Invalid --status value", errors.New("want uploaded|processing|completed|error"))
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	jobs := pipeline.NewJobs(newConnector(cfg), pipeline.WithLogger(observability.CLILogger))
	records, err := jobs.List(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list job records", err)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), cfg.Storage.Provider)
	defer func() { _ = w.Close() }()
	for i := range records {
		if status != "" && records[i].Status != status {
			continue
		}
		if err := w.WriteJob(ctx, &records[i]); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write job record", err)
		}
	}
	return nil
}
