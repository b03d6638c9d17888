package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/session"
)

var probePhase string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe configured tools for availability and resume support",
	Long: `Probe each configured tool: is the binary on PATH, does it support
session resume for the given phase, and how would a session id be
extracted. Results are cached in the task state, so the pipeline never
re-probes a (phase, tool) pair.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probePhase, "phase", "impl", "phase to probe for")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions := session.NewManager(a.store, a.invoker, a.cfg.Session.Mode, a.logger, a.ins)

	for name := range a.cfg.Tools {
		tool := plan.Tool(name)

		avail := "available"
		if err := a.invoker.Available(tool); err != nil {
			avail = fmt.Sprintf("unavailable (%v)", err)
		}

		probe, err := sessions.Probe(ctx, probePhase, tool)
		if err != nil {
			fmt.Printf("%-10s %s  probe failed: %v\n", name, avail, err)
			continue
		}

		resume := "no resume"
		if probe.ResumeSupported {
			resume = "resume via " + probe.IDSource
		}
		fmt.Printf("%-10s %-40s %s\n", name, avail, resume)
	}
	return nil
}
