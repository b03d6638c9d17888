// Stagehand orchestrates multi-stage pipelines that delegate work units
// to external AI CLI tools (codex, gemini, copilot), tracking budgets,
// retries, and session continuity per task.
//
// Usage:
//
//	# Run the implementation pipeline for a task
//	stagehand run --task fix-login --brief-file brief.md
//
//	# Run a standalone review panel
//	stagehand review --task fix-login
//
//	# Watch a running task
//	stagehand monitor --task fix-login
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/adapter"
	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/secrets"
	"github.com/fyrsmithlabs/stagehand/internal/state"
	"github.com/fyrsmithlabs/stagehand/internal/telemetry"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	taskName   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Pipeline runner for AI CLI tools",
	Long: `stagehand runs multi-stage pipelines that delegate units of work to
external AI CLI tools, with budget accounting, signature-scoped retries,
session continuity, and a parallel review panel.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./stagehand.yaml)")
	rootCmd.PersistentFlags().StringVar(&taskName, "task", "", "task name (directory under the task root)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stagehand by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// app bundles the wired collaborators every task-scoped command needs.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	ins      *telemetry.Instruments
	store    *state.Store
	invoker  *adapter.CLI
	scrubber *secrets.Scrubber
}

// newApp loads config and opens the task state. close flushes telemetry
// and syncs the logger.
func newApp(ctx context.Context) (*app, func(), error) {
	if taskName == "" {
		return nil, nil, fmt.Errorf("--task is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig(), tel.LoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	ins, err := telemetry.NewInstruments(tel.Meter("stagehand"))
	if err != nil {
		logger.Warn(ctx, "metric instruments unavailable", zap.Error(err))
	}

	store, err := state.Open(cfg.TaskRoot, taskName, cfg.Budget.PaidCalls)
	if err != nil {
		return nil, nil, err
	}

	// Scrub failures are non-fatal: excerpts just go out unredacted
	// detection-wise, and the logger still redacts known field shapes.
	var scrubber *secrets.Scrubber
	if allow, err := secrets.LoadAllowlists(".", ""); err == nil {
		if s, err := secrets.NewScrubber(allow); err == nil {
			scrubber = s
		} else {
			logger.Warn(ctx, "secret scrubber unavailable", zap.Error(err))
		}
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		ins:      ins,
		store:    store,
		invoker:  adapter.NewCLI(cfg.Tools, logger),
		scrubber: scrubber,
	}
	cleanup := func() {
		_ = tel.Shutdown(context.Background())
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func taskDir(cfg *config.Config, task string) string {
	return fmt.Sprintf("%s/%s", cfg.TaskRoot, task)
}
