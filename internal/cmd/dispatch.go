package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/event"
	"github.com/3leaps/geneflow/pkg/output"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

var (
	dispatchHandler string
	dispatchFile    string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run a handler on a saved storage event",
	Long: `Run the submission or notification handler once on a saved event payload.

The payload may be an Event Grid event or array, a CloudEvent (structured
JSON), an S3 bucket notification or an EventBridge event. One outcome record
per event is written as JSONL, followed by a summary record.

Examples:
  geneflow dispatch --handler submission --file blob-created.json
  cat result.json | geneflow dispatch --handler notification --file -`,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	dispatchCmd.Flags().StringVar(&dispatchHandler, "handler", "", "handler to run (submission|notification)")
	dispatchCmd.Flags().StringVarP(&dispatchFile, "file", "f", "-", "event payload file, - for stdin")
	_ = dispatchCmd.MarkFlagRequired("handler")
}

type storageEventHandler interface {
	Handle(ctx context.Context, ev event.StorageEvent) (pipeline.Outcome, error)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	h, err := pipeline.ParseHandler(dispatchHandler)
	if err != nil || h == pipeline.HandlerIntake {
		return exitError(foundry.ExitInvalidArgument, "Invalid --handler value", fmt.Errorf("want submission|notification, got %q", dispatchHandler))
	}
	if IsReadOnly() {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing to run a handler", fmt.Errorf("handlers update job records; disable --readonly"))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	payload, err := readPayload(cmd.InOrStdin(), dispatchFile)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read event payload", err)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), cfg.Storage.Provider)
	defer func() { _ = w.Close() }()

	batch, err := event.DecodeJSON(payload)
	if err != nil {
		_ = w.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeInvalidEvent, Message: err.Error(), Source: dispatchFile})
		return exitError(foundry.ExitInvalidArgument, "Invalid event payload", err)
	}
	if batch.ValidationCode != "" {
		observability.CLILogger.Info("Payload is a subscription validation event, nothing to do")
	}

	conn := newConnector(cfg)
	settings := cfg.PipelineSettings()
	opts := []pipeline.Option{pipeline.WithLogger(observability.CLILogger)}

	var handler storageEventHandler
	switch h {
	case pipeline.HandlerSubmission:
		handler, err = pipeline.NewSubmitter(conn, settings, opts...)
	case pipeline.HandlerNotification:
		handler, err = pipeline.NewNotifier(conn, settings, opts...)
	}
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid pipeline configuration", err)
	}

	start := time.Now()
	sum := &output.SummaryRecord{Events: int64(len(batch.Events))}
	for _, ev := range batch.Events {
		out, err := handler.Handle(ctx, ev)
		switch {
		case err != nil:
			sum.Failed++
			if out.Error == "" {
				out.Error = err.Error()
			}
		case out.Skipped:
			sum.Skipped++
		default:
			sum.Processed++
		}
		if werr := w.WriteOutcome(ctx, outcomeRecord(out)); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write outcome", werr)
		}
	}
	sum.Duration = time.Since(start)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	if err := w.WriteSummary(ctx, sum); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}

	observability.CLILogger.Info("Dispatch finished",
		zap.String("handler", string(h)),
		zap.Int64("events", sum.Events),
		zap.Int64("processed", sum.Processed),
		zap.Int64("skipped", sum.Skipped),
		zap.Int64("failed", sum.Failed))

	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "dispatch cancelled", ctx.Err())
	}
	if sum.Failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "dispatch completed with failures", fmt.Errorf("failed=%d", sum.Failed))
	}
	return nil
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(io.LimitReader(stdin, event.MaxBodyBytes+1))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(io.LimitReader(f, event.MaxBodyBytes+1))
}

func outcomeRecord(o pipeline.Outcome) *output.OutcomeRecord {
	return &output.OutcomeRecord{
		Handler: string(o.Handler),
		EventID: o.EventID,
		JobID:   o.JobID,
		Skipped: o.Skipped,
		Reason:  o.Reason,
		Status:  o.Status.String(),
		Error:   o.Error,
	}
}
