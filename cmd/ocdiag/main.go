// Package main is the entry point for the ocdiag CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marcusrbrown/ocdiag/internal/buildinfo"
	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
	"github.com/marcusrbrown/ocdiag/internal/observability"
	"github.com/marcusrbrown/ocdiag/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	buildinfo.Version = version

	out := output.Default()

	rootCmd := newRootCmd(out)
	if err := rootCmd.Execute(); err != nil {
		return handleError(out, err)
	}

	return clierrors.ExitSuccess
}

// handleError prints a single failure line and returns the exit code.
// Hints are only shown to a person at a terminal.
func handleError(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		out.Failure("%s", cliErr.Error())

		if cliErr.Hint != "" && out.Terminal().IsTTY {
			out.Muted("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	errStr := err.Error()

	// Cobra's own usage errors (unknown command, bad flags).
	if strings.HasPrefix(errStr, "unknown command") ||
		strings.HasPrefix(errStr, "unknown flag") ||
		strings.HasPrefix(errStr, "unknown shorthand flag") ||
		strings.Contains(errStr, "required flag") {
		out.Failure("%s", firstLine(errStr))

		return clierrors.ExitUsage
	}

	out.Failure("%s", errStr)

	return clierrors.ExitCode(err)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// globalFlags are shared by every command.
type globalFlags struct {
	noColor   bool
	logLevel  string
	logFormat string
	logFile   string
	logStderr string
}

func newRootCmd(out *output.Writer) *cobra.Command {
	var (
		global globalFlags
		diag   diagnoseFlags
	)

	rootCmd := &cobra.Command{
		Use:   "ocdiag",
		Short: "Diagnostics report for an opencode server",
		Long: `ocdiag reports what an opencode server sees: health, configuration,
providers, project, VCS, agents, tools, MCP/LSP/formatter status and sessions.

With --port it attaches to a running server. Otherwise it starts one on
the first free port from 4096 and stops it again when the report is done.`,
		Example: `  ocdiag
  ocdiag --port 4096 --only health,config
  ocdiag --json --dir ~/src/app | jq '.[0]'`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupRun(cmd, out, &global)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiagnose(cmd, &diag)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&global.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&global.logLevel, "log-level", "", "Log level: error, warn, info, debug")
	pf.StringVar(&global.logFormat, "log-format", "", "Log format: json, text")
	pf.StringVar(&global.logFile, "log-file", "", "Optional structured log file path")
	pf.StringVar(&global.logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")

	diag.register(rootCmd)

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	rootCmd.AddCommand(newSectionsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setupRun configures output, logging and tracing for every command.
func setupRun(cmd *cobra.Command, out *output.Writer, global *globalFlags) error {
	if global.noColor || pickBoolFlagOrEnv(false, "OCDIAG_NO_COLOR") {
		out.SetNoColor(true)
	}

	logCfg := observability.Config{
		Level:          pickFlagOrEnv(global.logLevel, "OCDIAG_LOG_LEVEL", "warn"),
		Format:         pickFlagOrEnv(global.logFormat, "OCDIAG_LOG_FORMAT", "json"),
		LogFile:        pickFlagOrEnv(global.logFile, "OCDIAG_LOG_FILE", ""),
		StderrMode:     pickFlagOrEnv(global.logStderr, "OCDIAG_LOG_STDERR", "auto"),
		InteractiveTTY: out.Terminal().IsTTY,
		SessionID:      uuid.NewString(),
		CommandPath:    cmd.CommandPath(),
		Version:        version,
		Commit:         commit,
	}

	logger, cleanup, err := observability.NewLogger(&logCfg)
	if err != nil {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid logging configuration: %v", err),
			Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
			Code:    clierrors.ExitUsage,
		}
	}

	slog.SetDefault(logger)

	ctx := out.WithContext(cmd.Context())
	ctx = observability.WithLogger(ctx, logger)
	cmd.SetContext(ctx)

	if cleanup != nil {
		cmd.PostRunE = wrapNamedPostRunCleanup(cmd.PostRunE, "logger resources", cleanup)
	}

	telemetryShutdown, telemetryErr := observability.SetupTelemetry(ctx, &observability.TelemetryConfig{
		Enabled: observability.IsTelemetryEnabled(),
		Version: version,
		Commit:  commit,
	})
	if telemetryErr != nil {
		logger.Warn("telemetry initialization failed", slog.String("error", telemetryErr.Error()))
	}

	if telemetryShutdown != nil {
		cmd.PostRunE = wrapNamedPostRunCleanup(cmd.PostRunE, "telemetry resources", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return telemetryShutdown(shutdownCtx)
		})
	}

	return nil
}

func wrapNamedPostRunCleanup(postRun func(*cobra.Command, []string) error, name string, cleanup func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if postRun != nil {
			if err := postRun(cmd, args); err != nil {
				_ = cleanup()
				return err
			}
		}

		if err := cleanup(); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err) //nolint:rawerror // internal cleanup, not user-facing
		}

		return nil
	}
}

func pickBoolFlagOrEnv(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}

	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))

	return v == "1" || v == "true" || v == "yes"
}

func pickFlagOrEnv(flagValue, envKey, fallback string) string {
	trimmed := strings.TrimSpace(flagValue)
	if trimmed != "" {
		return trimmed
	}

	if envValue := strings.TrimSpace(os.Getenv(envKey)); envValue != "" {
		return envValue
	}

	return fallback
}

// noArgs rejects positional arguments with a friendlier message than cobra.NoArgs.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return clierrors.New(clierrors.ExitUsage, fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath())).
			WithHint(fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()))
	}

	return nil
}
