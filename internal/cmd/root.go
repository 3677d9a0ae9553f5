// Package cmd implements the geneflow command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/geneflow/internal/config"
	"github.com/3leaps/geneflow/internal/connect"
	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/internal/server/handlers"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	cfgFile  string
	verbose  bool
	readOnly bool
)

// newConnector opens the services a command runs handlers against.
var newConnector = func(cfg *config.Config) pipeline.Connector {
	return connect.New(cfg)
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Event-driven sequence alignment pipeline",
	Long: `geneflow accepts uploaded sequencing reads, submits an alignment task to the
batch service when the upload lands in storage, and emails a download link
when the result appears.

The HTTP service (geneflow serve) runs every stage. Single stages can be run
from the command line for operations and debugging.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.InitCLILogger(config.AppName, verbose || viper.GetBool("verbose"))
		readOnly = readOnly || viper.GetBool("readonly")
		config.SetConfigFile(cfgFile)
		return nil
	},
}

// SetVersionInfo records the build identity reported by the version command
// and the /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitCode(err)
	}
	return 0
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./geneflow.yaml or ~/.config/geneflow/geneflow.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "refuse provider-side writes (also GENEFLOW_READONLY)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
	_ = viper.BindEnv("readonly", config.EnvPrefix+"_READONLY")
}

// setDefaults registers the CLI-level settings with the global viper.
// Service settings are loaded by package config.
func setDefaults() {
	viper.SetDefault("verbose", false)
	viper.SetDefault("readonly", false)
	viper.SetDefault("output", "jsonl")
}

// IsReadOnly reports whether provider-side writes are disabled.
func IsReadOnly() bool {
	return readOnly || viper.GetBool("readonly")
}

// loadConfig loads the service configuration for cmd.
func loadConfig(cmd *cobra.Command, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	return cfg, nil
}

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(strings.ToLower(message))
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps err to a process exit code. Errors that carry no code exit 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// ExitWithCode logs msg and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	logger.Error(msg, zap.Int("exit_code", code), zap.Error(err))
	os.Exit(code)
}
