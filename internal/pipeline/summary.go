package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/stagehand/internal/state"
)

// truncationMarker closes a summary that hit its size bound.
const truncationMarker = "\n\n_(summary truncated)_\n"

// RenderSummary produces the human-readable run summary from a state
// snapshot. planOrder fixes the stage listing order; stages the snapshot
// knows but the plan does not (earlier runs with a different plan) are
// appended alphabetically. Output is bounded to maxBytes.
func RenderSummary(snap state.Data, planOrder []string, maxBytes int) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s\n\n", snap.Task)
	fmt.Fprintf(&b, "- paid calls: %d/%d\n", snap.Stats.PaidCallsUsed, snap.Stats.PaidCallBudget)
	fmt.Fprintf(&b, "- stages done: %d\n", snap.Stats.StagesDone)
	fmt.Fprintf(&b, "- retries: %d\n", snap.Stats.Retries)
	if !snap.Stats.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "- updated: %s\n", snap.Stats.UpdatedAt.UTC().Format(time.RFC3339))
	}

	if ids := orderedStageIDs(snap, planOrder); len(ids) > 0 {
		b.WriteString("\n## Stages\n\n")
		b.WriteString("| stage | tool | status | attempt | exit | elapsed |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, id := range ids {
			sr := snap.Stages[id]
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s |\n",
				sr.StageID, sr.Tool, sr.Status, sr.Attempt, sr.ExitCode, stageElapsed(sr))
		}
	}

	if len(snap.Signatures) > 0 {
		b.WriteString("\n## Error signatures\n\n")
		sigs := make([]*state.ErrorSignature, 0, len(snap.Signatures))
		for _, sig := range snap.Signatures {
			sigs = append(sigs, sig)
		}
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].Signature < sigs[j].Signature })
		for _, sig := range sigs {
			fmt.Fprintf(&b, "- `%s` ×%d (last %s)\n",
				sig.Signature, sig.Count, sig.LastSeen.UTC().Format(time.RFC3339))
		}
	}

	if len(snap.Sessions) > 0 {
		b.WriteString("\n## Sessions\n\n")
		keys := make([]string, 0, len(snap.Sessions))
		for k := range snap.Sessions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rec := snap.Sessions[k]
			fmt.Fprintf(&b, "- %s/%s: %s (%s, %s confidence)\n",
				rec.Phase, rec.Tool, rec.SessionID, rec.Status, rec.Confidence)
		}
	}

	return bound([]byte(b.String()), maxBytes)
}

// orderedStageIDs lists attempted stages in plan order first, then any
// leftovers alphabetically.
func orderedStageIDs(snap state.Data, planOrder []string) []string {
	seen := make(map[string]bool, len(planOrder))
	var ids []string
	for _, id := range planOrder {
		if _, ok := snap.Stages[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var extra []string
	for id := range snap.Stages {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

func stageElapsed(sr *state.StageRun) string {
	if sr.StartedAt.IsZero() {
		return "-"
	}
	end := sr.EndedAt
	if end.IsZero() {
		return "running"
	}
	return end.Sub(sr.StartedAt).Round(time.Second).String()
}

// bound truncates content to maxBytes, sacrificing the tail and closing
// with a visible marker so a reader knows the document is incomplete.
func bound(content []byte, maxBytes int) []byte {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}
	keep := maxBytes - len(truncationMarker)
	if keep < 0 {
		// The bound is tighter than the marker itself; clip the marker
		// rather than overshoot the limit.
		return []byte(truncationMarker[:maxBytes])
	}
	return append(content[:keep], truncationMarker...)
}
