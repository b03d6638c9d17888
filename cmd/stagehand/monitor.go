package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/monitor"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard for a task",
	Long: `Watch a task's budget, stages, and failures in a live terminal
dashboard. The view refreshes when the task state changes on disk, with
a periodic tick as fallback.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "fallback refresh interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if taskName == "" {
		return fmt.Errorf("--task is required")
	}
	// The monitor only reads files; no need to open the store (which
	// would refresh the budget) or start telemetry.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	model := monitor.NewModel(taskDir(cfg, taskName), monitorInterval)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
