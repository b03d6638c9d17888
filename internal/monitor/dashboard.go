// Package monitor renders a live terminal dashboard for a running task:
// budget, stage progress, error signatures, and session continuity,
// refreshed from the task directory on file change or tick.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/fyrsmithlabs/stagehand/internal/state"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
)

// Lipgloss styles (k9s-inspired color scheme).
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Model is the bubbletea dashboard model for one task directory.
type Model struct {
	dir      string
	interval time.Duration

	snapshot   TaskSnapshot
	lastUpdate time.Time
	err        error
	quitting   bool

	watcher        *fsnotify.Watcher
	budgetProgress progress.Model
}

// NewModel builds the dashboard for the task directory. The refresh
// interval is the fallback when filesystem watching is unavailable.
func NewModel(dir string, interval time.Duration) Model {
	budgetProg := progress.New(
		progress.WithGradient("#00ff00", "#ff0000"),
		progress.WithWidth(40),
	)

	m := Model{
		dir:            dir,
		interval:       interval,
		budgetProgress: budgetProg,
	}
	// Watch failure is non-fatal: the tick keeps the view fresh.
	if w, err := newWatcher(dir); err == nil {
		m.watcher = w
	}
	return m
}

type tickMsg time.Time
type snapshotMsg TaskSnapshot
type fileChangedMsg struct{}
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(m.interval), loadSnapshot(m.dir)}
	if m.watcher != nil {
		cmds = append(cmds, waitForChange(m.watcher))
	}
	return tea.Batch(cmds...)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadSnapshot(dir string) tea.Cmd {
	return func() tea.Msg {
		snap, err := LoadSnapshot(dir)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// waitForChange blocks on the next relevant filesystem event.
func waitForChange(w *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if strings.HasSuffix(ev.Name, stateFile) || strings.HasSuffix(ev.Name, lastFailureFile) {
					return fileChangedMsg{}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.watcher != nil {
				m.watcher.Close()
			}
			return m, tea.Quit
		case "r":
			return m, loadSnapshot(m.dir)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), loadSnapshot(m.dir))

	case fileChangedMsg:
		cmds := []tea.Cmd{loadSnapshot(m.dir)}
		if m.watcher != nil {
			cmds = append(cmds, waitForChange(m.watcher))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.snapshot = TaskSnapshot(msg)
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" stagehand monitor ")

	var content strings.Builder
	content.WriteString("\n")
	content.WriteString(failStyle.Render("⚠ Cannot read task state") + "\n\n")
	content.WriteString(dimStyle.Render("Dir: ") + valueStyle.Render(m.dir) + "\n")
	content.WriteString(dimStyle.Render("Error: ") + failStyle.Render(m.err.Error()) + "\n\n")
	content.WriteString(dimStyle.Render("The task may not have started yet; run `stagehand run` first.") + "\n\n")
	content.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + content.String())
}

func (m Model) renderDashboard() string {
	snap := m.snapshot
	stats := snap.State.Stats

	var content strings.Builder

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}
	content.WriteString(headerStyle.Render(" stagehand monitor ") + "\n")
	content.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		taskBadge(snap),
		dimStyle.Render("Task:"),
		valueStyle.Render(snap.State.Task),
		dimStyle.Render(lastUpdateStr)))

	// Budget section with progress bar.
	content.WriteString("\n" + sectionStyle.Render("┃ Budget") + "\n")
	ratio := 0.0
	if stats.PaidCallBudget > 0 {
		ratio = float64(stats.PaidCallsUsed) / float64(stats.PaidCallBudget)
		if ratio > 1.0 {
			ratio = 1.0
		}
	}
	content.WriteString(labelStyle.Render("  Paid calls: ") +
		valueStyle.Render(fmt.Sprintf("%d/%d", stats.PaidCallsUsed, stats.PaidCallBudget)) +
		"  " + m.budgetProgress.ViewAs(ratio) +
		" " + dimStyle.Render(FormatPercentage(ratio)) + "\n")
	content.WriteString(labelStyle.Render("  Retries: ") +
		valueStyle.Render(fmt.Sprintf("%d", stats.Retries)) + "\n")

	// Stage section with duration sparkline.
	content.WriteString("\n" + sectionStyle.Render("┃ Stages") + "\n")
	content.WriteString(labelStyle.Render("  Done: ") +
		valueStyle.Render(fmt.Sprintf("%d", stats.StagesDone)) +
		"   " + labelStyle.Render("Durations: ") +
		renderSparkline(StageDurations(snap)) + "\n")
	for _, sr := range StagesByStart(snap) {
		content.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			stageBadge(sr.Status),
			valueStyle.Render(fmt.Sprintf("%-24s", sr.StageID)),
			dimStyle.Render(fmt.Sprintf("attempt %d", sr.Attempt)),
			dimStyle.Render(FormatStageElapsed(sr))))
	}

	// Error signatures.
	if len(snap.State.Signatures) > 0 {
		content.WriteString("\n" + sectionStyle.Render("┃ Error signatures") + "\n")
		for _, sig := range snap.State.Signatures {
			content.WriteString(labelStyle.Render("  "+sig.Signature) +
				dimStyle.Render(fmt.Sprintf("  ×%d", sig.Count)) + "\n")
		}
	}

	// Sessions.
	if len(snap.State.Sessions) > 0 {
		content.WriteString("\n" + sectionStyle.Render("┃ Sessions") + "\n")
		for _, rec := range snap.State.Sessions {
			content.WriteString(fmt.Sprintf("  %s %s %s\n",
				labelStyle.Render(rec.Phase+"/"+rec.Tool),
				valueStyle.Render(rec.SessionID),
				dimStyle.Render("("+rec.Status+")")))
		}
	}

	// Last failure.
	if snap.LastFailure != nil {
		content.WriteString("\n" + sectionStyle.Render("┃ Last failure") + "\n")
		content.WriteString("  " + failStyle.Render(snap.LastFailure.Class) +
			dimStyle.Render(" at ") + valueStyle.Render(snap.LastFailure.StageID) + "\n")
		for _, action := range snap.LastFailure.SuggestedActions {
			content.WriteString(dimStyle.Render("    → "+action) + "\n")
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content.WriteString("\n" + footer)

	return containerStyle.Render(content.String())
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

func taskBadge(snap TaskSnapshot) string {
	if snap.LastFailure != nil {
		return failStyle.Render("✗ FAILED")
	}
	for _, sr := range snap.State.Stages {
		if sr.Status == state.StageRunning {
			return warnStyle.Render("● RUNNING")
		}
	}
	return okStyle.Render("✓ IDLE")
}

func stageBadge(status string) string {
	switch status {
	case state.StageDone:
		return okStyle.Render("[✓]")
	case state.StageRunning:
		return warnStyle.Render("[●]")
	case state.StageFailed:
		return failStyle.Render("[✗]")
	default:
		return dimStyle.Render("[ ]")
	}
}
