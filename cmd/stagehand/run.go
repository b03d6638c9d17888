package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/pipeline"
	"github.com/fyrsmithlabs/stagehand/internal/review"
	"github.com/fyrsmithlabs/stagehand/internal/session"
	"github.com/fyrsmithlabs/stagehand/internal/stage"
)

var (
	runPipeline  string
	runProfile   string
	runModel     string
	runEffort    string
	runStages    []string
	runBriefFile string
	runFlags     []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline for a task",
	Long: `Run a pipeline for a task. The task brief comes from --brief-file or
stdin. Completed stages are skipped on re-runs; recovery is forward-only.

Examples:
  # Run the implementation pipeline
  stagehand run --task fix-login --brief-file brief.md

  # Pipe the brief in and force a model
  cat brief.md | stagehand run --task fix-login --model gpt-5.1

  # Skip the optional verify stage
  stagehand run --task fix-login --brief-file brief.md --flag enable_verify=false`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPipeline, "pipeline", "impl", "pipeline to run")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "named profile")
	runCmd.Flags().StringVar(&runModel, "model", "", "force the model for every stage")
	runCmd.Flags().StringVar(&runEffort, "effort", "", "force reasoning effort for codex stages")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "replace the stage list (comma-separated stage ids)")
	runCmd.Flags().StringVar(&runBriefFile, "brief-file", "", "file holding the task brief (- or empty: stdin)")
	runCmd.Flags().StringSliceVar(&runFlags, "flag", nil, "stage filter flags, e.g. enable_verify=false")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx = logging.WithTaskID(ctx, taskName)

	brief, err := readBrief(runBriefFile)
	if err != nil {
		return err
	}

	flags, err := parseFlagFilters(runFlags)
	if err != nil {
		return err
	}

	p, err := a.cfg.Resolve(runPipeline, config.Overrides{
		Profile: runProfile,
		Stages:  runStages,
		Model:   runModel,
		Effort:  runEffort,
		Flags:   flags,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(a.store, a.invoker, a.cfg.Session.Mode, a.logger, a.ins)
	executor := stage.NewExecutor(stage.Options{
		Store:       a.store,
		Invoker:     a.invoker,
		Sessions:    sessions,
		Scrubber:    a.scrubber,
		Logger:      a.logger,
		Instruments: a.ins,
		Heartbeat:   a.cfg.Stage.HeartbeatInterval.Duration(),
		RetryBudget: a.cfg.Budget.RetryBudget,
	})

	orch := pipeline.NewOrchestrator(a.store, executor, newCoordinator(a), a.logger, a.cfg.Summary.MaxBytes)
	result, err := orch.Run(ctx, p, brief)
	if err != nil {
		a.logger.Error(ctx, "pipeline failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Pipeline halted: %v\nSee %s for details.\n", err, a.store.LastFailurePath())
		return err
	}

	fmt.Printf("Pipeline %s complete: %d stages (run %s)\n", p.Pipeline, len(result.Stages), result.RunID)
	fmt.Printf("Summary: %s\n", a.store.SummaryPath())
	return nil
}

// newCoordinator wires the review coordinator from config. A typed-nil
// fixer must stay a nil interface so absent fix capability skips items.
func newCoordinator(a *app) *review.Coordinator {
	runner := review.NewLensRunner(a.invoker, a.store, a.cfg.Tools)
	var fixer review.Fixer
	if tf := review.NewToolFixer(a.invoker, a.store, a.cfg.Review.FixTool, a.cfg.Tools); tf != nil {
		fixer = tf
	}
	verify := review.RegressionVerifier(a.cfg.Review.RegressionCmd, 0)
	return review.NewCoordinator(a.cfg.Review, a.store, runner, fixer, verify, a.logger, a.ins)
}

func readBrief(path string) (string, error) {
	var raw []byte
	var err error
	if path == "" || path == "-" {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading brief from stdin: %w", err)
		}
	} else {
		raw, err = os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading brief file: %w", err)
		}
	}
	brief := strings.TrimSpace(string(raw))
	if brief == "" {
		return "", fmt.Errorf("task brief is empty")
	}
	return brief, nil
}

func parseFlagFilters(pairs []string) (map[string]bool, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	flags := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("flag %q is not of the form name=bool", pair)
		}
		switch val {
		case "true":
			flags[key] = true
		case "false":
			flags[key] = false
		default:
			return nil, fmt.Errorf("flag %q value must be true or false", pair)
		}
	}
	return flags, nil
}
