package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:   "plan <jobId>",
	Short: "Render the alignment task of a job without submitting it",
	Long: `Build the alignment task a submission would start for a job and print it.
Signed URLs are issued with the configured lifetimes; the job record and the
batch service are not touched.

Formats:
  yaml    the typed task plan (default)
  script  the shell script the compute node runs`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planFormat, "format", "o", "yaml", "output format (yaml|script)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planFormat != "yaml" && planFormat != "script" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("want yaml|script, got %q", planFormat))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := pipeline.NewSubmitter(newConnector(cfg), cfg.PipelineSettings(), pipeline.WithLogger(observability.CLILogger))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid pipeline configuration", err)
	}
	plan, err := s.Plan(cmd.Context(), args[0])
	switch {
	case errors.Is(err, pipeline.ErrInvalidJobID):
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	case err != nil:
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to build task plan", err)
	}

	out := cmd.OutOrStdout()
	if planFormat == "script" {
		_, err = io.WriteString(out, plan.RenderScript())
		return err
	}
	b, err := plan.YAML()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to encode task plan", err)
	}
	_, err = out.Write(b)
	return err
}
