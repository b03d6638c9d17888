package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/pipeline"
	"github.com/fyrsmithlabs/stagehand/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a standalone review panel for a task",
	Long: `Run the parallel review panel outside a pipeline: launch the
configured lenses concurrently, merge their findings, and work through
the fix queue. The report lands under the task's review directory.

Examples:
  stagehand review --task fix-login`,
	RunE: runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx = logging.WithTaskID(ctx, taskName)

	coord := newCoordinator(a)
	report, err := coord.Run(ctx, pipeline.NewRunID())
	if err != nil {
		return fmt.Errorf("review panel: %w", err)
	}

	fmt.Printf("Review complete: %d findings from %d lenses (%d conflicts resolved)\n",
		len(report.Findings), len(report.Lenses), report.Merge.ConflictsResolved)
	for _, f := range report.Findings {
		loc := f.TargetFile
		if f.TargetLocation != "" {
			loc += ":" + f.TargetLocation
		}
		fmt.Printf("  [%s] %s %s\n", f.Severity, loc, f.Issue)
	}
	if report.Security != nil && report.Security.StopAction == review.StopHaltForHuman {
		fmt.Println("\nCritical security findings require human confirmation; no fixes were applied.")
	}
	fmt.Printf("\nReport: %s/report.json\n", a.store.ReviewDir())
	return nil
}
