package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/stagehand/internal/state"
)

func sampleSnapshot() state.Data {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return state.Data{
		Task: "task1",
		Stats: state.Stats{
			PaidCallsUsed:  6,
			PaidCallBudget: 25,
			StagesDone:     2,
			Retries:        1,
			UpdatedAt:      start.Add(time.Hour),
		},
		Stages: map[string]*state.StageRun{
			"codex_implement": {
				StageID: "codex_implement", Tool: "codex", Attempt: 1,
				Status: state.StageDone, StartedAt: start, EndedAt: start.Add(90 * time.Second),
			},
			"gemini_verify": {
				StageID: "gemini_verify", Tool: "gemini", Attempt: 2,
				Status: state.StageFailed, ExitCode: 1,
				StartedAt: start.Add(2 * time.Minute), EndedAt: start.Add(3 * time.Minute),
			},
		},
		Signatures: map[string]*state.ErrorSignature{
			"transient:abc123def456": {
				Class: "transient", Signature: "transient:abc123def456",
				Count: 2, LastSeen: start,
			},
		},
		Sessions: map[string]*state.SessionRecord{
			"impl/codex": {
				Phase: "impl", Tool: "codex", SessionID: "S1",
				Status: state.SessionActive, Confidence: state.ConfidenceHigh,
			},
		},
	}
}

func TestRenderSummaryContents(t *testing.T) {
	out := string(RenderSummary(sampleSnapshot(), []string{"codex_implement", "gemini_verify"}, 16*1024))

	assert.Contains(t, out, "# Task task1")
	assert.Contains(t, out, "paid calls: 6/25")
	assert.Contains(t, out, "retries: 1")
	assert.Contains(t, out, "transient:abc123def456")
	assert.Contains(t, out, "impl/codex: S1 (active, high confidence)")

	// Stages listed in plan order.
	impl := strings.Index(out, "codex_implement")
	verify := strings.Index(out, "gemini_verify")
	assert.Greater(t, verify, impl)
}

func TestRenderSummaryPlanOrderOverridesMapOrder(t *testing.T) {
	out := string(RenderSummary(sampleSnapshot(), []string{"gemini_verify", "codex_implement"}, 16*1024))
	assert.Greater(t, strings.Index(out, "codex_implement"), strings.Index(out, "gemini_verify"))
}

func TestRenderSummaryUnplannedStagesAppended(t *testing.T) {
	out := string(RenderSummary(sampleSnapshot(), []string{"codex_implement"}, 16*1024))
	// A stage the current plan does not know still shows up.
	assert.Contains(t, out, "gemini_verify")
}

func TestRenderSummaryBounded(t *testing.T) {
	out := RenderSummary(sampleSnapshot(), []string{"codex_implement", "gemini_verify"}, 200)
	assert.LessOrEqual(t, len(out), 200)
	assert.True(t, strings.HasSuffix(string(out), truncationMarker))
}

func TestRenderSummaryBoundTighterThanMarker(t *testing.T) {
	// Bounds smaller than the truncation marker must still hold.
	for _, max := range []int{1, 5, len(truncationMarker) - 1} {
		out := RenderSummary(sampleSnapshot(), nil, max)
		assert.LessOrEqual(t, len(out), max, "maxBytes=%d", max)
	}
}

func TestRenderSummaryRegeneratesMonotonically(t *testing.T) {
	snap := sampleSnapshot()
	first := RenderSummary(snap, nil, 16*1024)

	snap.Stats.PaidCallsUsed = 7
	snap.Stages["codex_fix"] = &state.StageRun{
		StageID: "codex_fix", Tool: "codex", Attempt: 1, Status: state.StageRunning,
		StartedAt: time.Now(),
	}
	second := RenderSummary(snap, nil, 16*1024)

	assert.NotContains(t, string(first), "codex_fix")
	assert.Contains(t, string(second), "codex_fix")
	assert.Contains(t, string(second), "running")
}
