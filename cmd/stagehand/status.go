package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/stagehand/internal/monitor"
	"github.com/fyrsmithlabs/stagehand/internal/state"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a task's progress and last failure",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, cleanup, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	snap := a.store.Snapshot()
	lf, _ := a.store.ReadLastFailure()

	if statusJSON {
		out := struct {
			state.Data
			LastFailure *state.LastFailure `json:"last_failure,omitempty"`
		}{Data: snap, LastFailure: lf}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Task: %s\n", snap.Task)
	fmt.Printf("Paid calls: %d/%d   Stages done: %d   Retries: %d\n",
		snap.Stats.PaidCallsUsed, snap.Stats.PaidCallBudget,
		snap.Stats.StagesDone, snap.Stats.Retries)

	if len(snap.Stages) > 0 {
		fmt.Println("\nStages:")
		for _, sr := range monitor.StagesByStart(monitor.TaskSnapshot{State: snap}) {
			fmt.Printf("  %-8s %-24s attempt %d  exit %d\n",
				sr.Status, sr.StageID, sr.Attempt, sr.ExitCode)
		}
	}

	if len(snap.Signatures) > 0 {
		fmt.Println("\nError signatures:")
		for _, sig := range snap.Signatures {
			fmt.Printf("  %s  ×%d\n", sig.Signature, sig.Count)
		}
	}

	if lf != nil {
		fmt.Printf("\nLast failure: %s at %s\n", lf.Class, lf.StageID)
		for _, action := range lf.SuggestedActions {
			fmt.Printf("  → %s\n", action)
		}
		if lf.Recovery != nil {
			fmt.Printf("  Session recovery (%s/%s): expected %q, got %q\n",
				lf.Recovery.Phase, lf.Recovery.Tool,
				lf.Recovery.ExpectedSessionID, lf.Recovery.ActualSessionID)
			for _, step := range lf.Recovery.ManualSteps {
				fmt.Printf("    %s\n", step)
			}
		}
	}
	return nil
}
