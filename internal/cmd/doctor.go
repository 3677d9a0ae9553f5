package cmd

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/config"
	"github.com/3leaps/geneflow/internal/connect"
	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/batch"
	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/preflight"
	"github.com/3leaps/geneflow/pkg/provider"
)

var (
	doctorMode          string
	doctorProbeStrategy string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check the configuration of every handler, the storage areas and the batch
pool, and suggest fixes for common issues.

Examples:
  geneflow doctor                      # configuration, listing and signing checks
  geneflow doctor --mode plan-only     # configuration only, no remote calls
  geneflow doctor --mode write-probe   # also probe write access to the raw area`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorMode, "mode", string(preflight.ModeReadSafe), "Storage check mode (plan-only|read-safe|write-probe)")
	doctorCmd.Flags().StringVar(&doctorProbeStrategy, "probe-strategy", string(preflight.ProbeMultipartAbort), "Write probe strategy (multipart-abort|put-delete)")
}

// doctorReport numbers the check lines.
type doctorReport struct {
	num, total int
	ok         bool
}

func (r *doctorReport) pass(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", r.num, r.total, name, detail), fields...)
	r.num++
}

func (r *doctorReport) warn(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", r.num, r.total, name, detail), fields...)
	r.num++
}

func (r *doctorReport) fail(name, detail string, fields ...zap.Field) {
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", r.num, r.total, name, detail), fields...)
	r.num++
	r.ok = false
}

var doctorHandlers = []pipeline.Handler{pipeline.HandlerIntake, pipeline.HandlerSubmission, pipeline.HandlerNotification}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := preflight.ParseMode(doctorMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value", err)
	}
	strategy, err := preflight.ParseProbeStrategy(doctorProbeStrategy)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --probe-strategy value", err)
	}
	if IsReadOnly() && mode == preflight.ModeWriteProbe {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing write-probe preflight", fmt.Errorf("use --mode read-safe or disable --readonly"))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	observability.CLILogger.Info("=== geneflow doctor ===")
	observability.CLILogger.Info("")

	r := &doctorReport{num: 1, total: 3 + len(doctorHandlers), ok: true}
	if mode != preflight.ModePlanOnly {
		r.total += 2
	}

	goVersion := runtime.Version()
	r.pass("Go version", goVersion, zap.String("go_version", goVersion))
	r.pass("environment", runtime.GOOS+"/"+runtime.GOARCH)

	checkStorageCredentials(ctx, r, cfg)

	for _, h := range doctorHandlers {
		if err := cfg.Validate(h); err != nil {
			r.fail(string(h)+" configuration", err.Error())
			continue
		}
		r.pass(string(h)+" configuration", "complete")
	}

	if mode != preflight.ModePlanOnly {
		checkStorageAreas(ctx, r, cfg, preflight.Spec{Mode: mode, ProbeStrategy: strategy})
		checkBatchPool(ctx, r, cfg)
	}

	observability.CLILogger.Info("")
	if !r.ok {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		observability.CLILogger.Info("=== End Diagnostics ===")
		return exitError(foundry.ExitExternalServiceUnavailable, "doctor found problems", fmt.Errorf("%d checks run", r.num-1))
	}
	observability.CLILogger.Info("✅ All checks passed!")
	observability.CLILogger.Info("=== End Diagnostics ===")
	return nil
}

func checkStorageCredentials(ctx context.Context, r *doctorReport, cfg *config.Config) {
	const name = "storage credentials"
	st := cfg.Storage
	switch provider.ProviderType(st.Provider) {
	case provider.ProviderFile:
		r.pass(name, "local directory "+st.File.BaseDir, zap.String("base_dir", st.File.BaseDir))
		return
	case provider.ProviderS3:
	default:
		r.fail(name, fmt.Sprintf("unsupported provider %q", st.Provider))
		return
	}

	if st.S3.AccessKeyID != "" {
		r.pass(name, "static key from configuration", zap.String("access_key", maskAccessKey(st.S3.AccessKeyID)))
		return
	}

	var opts []func(*awsconfig.LoadOptions) error
	if st.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(st.S3.Region))
	}
	if st.S3.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(st.S3.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		r.fail(name, "cannot load AWS config", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		r.fail(name, "cannot retrieve credentials", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	r.pass(name, "found credentials", zap.String("access_key", maskAccessKey(creds.AccessKeyID)), zap.String("source", source))
}

func checkStorageAreas(ctx context.Context, r *doctorReport, cfg *config.Config, spec preflight.Spec) {
	const name = "storage areas"
	targets, closeAll, err := connect.New(cfg).Targets(ctx)
	if err != nil {
		r.fail(name, "cannot open storage", zap.Error(err))
		return
	}
	defer closeAll()

	rec, err := preflight.Areas(ctx, targets, spec)
	if err == nil {
		r.pass(name, fmt.Sprintf("%d capabilities allowed", len(rec.Results)))
		return
	}
	denied := make([]string, 0, len(rec.Results))
	for _, res := range rec.Denied() {
		denied = append(denied, res.Capability+" ("+res.ErrorCode+")")
	}
	r.fail(name, "denied: "+strings.Join(denied, ", "), zap.Error(err))
}

func checkBatchPool(ctx context.Context, r *doctorReport, cfg *config.Config) {
	const name = "batch pool"
	if err := cfg.ValidateSubmission(); err != nil {
		r.warn(name, "skipped, submission is not configured")
		return
	}
	client, err := connect.New(cfg).Batch(ctx)
	if err != nil {
		r.fail(name, "cannot create batch client", zap.Error(err))
		return
	}
	pools, err := client.ListPools(ctx)
	if err != nil {
		r.fail(name, "cannot list pools", zap.Error(err))
		return
	}
	if !batch.HasPool(pools, cfg.Batch.PoolID) {
		ids := make([]string, 0, len(pools))
		for _, p := range pools {
			ids = append(ids, p.ID)
		}
		r.fail(name, fmt.Sprintf("pool %q not found", cfg.Batch.PoolID), zap.Strings("available", ids))
		return
	}
	r.pass(name, cfg.Batch.PoolID)
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set GENEFLOW_STORAGE_CONNECTION_STRING=\"Provider=s3;AccessKeyId=...;SecretAccessKey=...\", or")
	observability.CLILogger.Info("  2. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, or run 'aws configure', or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, moto), also set storage.s3.endpoint")
	observability.CLILogger.Info("and storage.s3.force_path_style.")
	observability.CLILogger.Info("")
}
