package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/config"
	"github.com/3leaps/geneflow/internal/connect"
	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/internal/server"
	"github.com/3leaps/geneflow/internal/server/handlers"
	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/preflight"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Run the HTTP service: uploads, job lookup, storage event endpoints and
health probes.

Routes:
  POST /api/upload_function?email=...   store an upload and create a job
  POST /v1/jobs?email=...               same as above
  GET  /v1/jobs/{jobId}                 job metadata record
  POST /events/submission               input-created events
  POST /events/notification             result-created events
  GET  /health, /health/live, /health/ready, /health/startup, /version`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server.host"] = serveHost
	}
	if servePort != 0 {
		overrides["server.port"] = servePort
	}
	cfg, err := loadConfig(cmd, overrides)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, h := range []pipeline.Handler{pipeline.HandlerIntake, pipeline.HandlerSubmission, pipeline.HandlerNotification} {
		if err := cfg.Validate(h); err != nil {
			logger.Warn("Handler not fully configured", zap.String("handler", string(h)), zap.Error(err))
		}
	}

	srv := newServer(cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}
	if err := <-errCh; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	logger.Info("Server stopped")
	return nil
}

// newServer wires the configuration into the HTTP service and registers the
// health checks.
func newServer(cfg *config.Config, logger *zap.Logger) *server.Server {
	conn := connect.New(cfg)

	health := handlers.InitHealthManager(versionInfo.Version)
	health.SetCheckTimeout(cfg.Health.ReadyTimeout)
	if cfg.Health.Enabled {
		health.RegisterChecker("config", configHealthChecker{cfg: cfg})
		health.RegisterChecker("storage", storageHealthChecker{conn: conn})
	}

	p := handlers.NewPipeline(newConnector(cfg), cfg.PipelineSettings(), cfg.Events.AllowedOrigins)
	return server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger),
		server.WithPipeline(p),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithUploadTimeout(cfg.Server.UploadTimeout))
}

// configHealthChecker fails while any handler is missing settings.
type configHealthChecker struct {
	cfg *config.Config
}

func (c configHealthChecker) CheckHealth(context.Context) error {
	var errs []error
	for _, h := range []pipeline.Handler{pipeline.HandlerIntake, pipeline.HandlerSubmission, pipeline.HandlerNotification} {
		if err := c.cfg.Validate(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// storageHealthChecker lists every storage area.
type storageHealthChecker struct {
	conn *connect.Connector
}

func (c storageHealthChecker) CheckHealth(ctx context.Context) error {
	targets, closeAll, err := c.conn.Targets(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	for i := range targets {
		targets[i].Checks = nil
	}
	_, err = preflight.Areas(ctx, targets, preflight.Spec{Mode: preflight.ModeReadSafe})
	return err
}
