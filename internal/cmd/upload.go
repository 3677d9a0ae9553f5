package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

var (
	uploadFile  string
	uploadEmail string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Store a sequence file as a new job",
	Long: `Store a sequence file in the raw area and create its job record, exactly
as the HTTP upload does. Prints {"jobId","status"}.

Example:
  geneflow upload --file reads.fq.gz --email alice@example.com`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadFile, "file", "f", "", "sequence file to upload")
	uploadCmd.Flags().StringVar(&uploadEmail, "email", "", "address notified on completion (default: admin address)")
	_ = uploadCmd.MarkFlagRequired("file")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if IsReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing upload", fmt.Errorf("disable --readonly"))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(uploadFile)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot open upload file", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Cannot stat upload file", err)
	}

	intake := pipeline.NewIntake(newConnector(cfg), cfg.PipelineSettings(), pipeline.WithLogger(observability.CLILogger))
	res, err := intake.Handle(cmd.Context(), f, info.Size(), uploadEmail)
	if err != nil {
		observability.CLILogger.Error("Upload failed", zap.String("file", uploadFile), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Upload failed", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(res)
}
