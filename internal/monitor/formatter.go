package monitor

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/stagehand/internal/state"
)

// FormatPercentage formats a ratio (0-1) as a percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}

// FormatDuration formats a duration as "Xh Ym", "Xm Ys", or "Xs".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatStageElapsed renders a stage run's wall time, ticking live for a
// still-running stage.
func FormatStageElapsed(sr *state.StageRun) string {
	if sr.StartedAt.IsZero() {
		return "-"
	}
	if sr.EndedAt.IsZero() {
		return FormatDuration(time.Since(sr.StartedAt)) + "…"
	}
	return FormatDuration(sr.EndedAt.Sub(sr.StartedAt))
}
