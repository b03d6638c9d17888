package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/review"
	"github.com/fyrsmithlabs/stagehand/internal/stage"
	"github.com/fyrsmithlabs/stagehand/internal/state"
)

type execCall struct {
	stageID  string
	upstream []byte
}

type fakeExecutor struct {
	calls   []execCall
	outputs map[string][]byte
	failOn  map[string]error
	// store, when set, replays the executor's done-marker short circuit:
	// completed stages return StatusSkipped with their persisted artifact.
	store *state.Store
}

func (f *fakeExecutor) Execute(ctx context.Context, st plan.Stage, brief string, upstream []byte) (*stage.Result, error) {
	f.calls = append(f.calls, execCall{stageID: st.ID, upstream: upstream})
	if f.store != nil && f.store.IsStageDone(st.ID) {
		artifact, err := f.store.ReadArtifact(st.ID)
		if err != nil {
			return nil, err
		}
		return &stage.Result{StageID: st.ID, Status: stage.StatusSkipped, Artifact: artifact}, nil
	}
	if err := f.failOn[st.ID]; err != nil {
		return nil, err
	}
	return &stage.Result{
		StageID:  st.ID,
		Status:   stage.StatusDone,
		Artifact: f.outputs[st.ID],
		Attempts: 1,
	}, nil
}

type fakeReviewer struct {
	calls  int
	report *review.Report
	err    error
}

func (f *fakeReviewer) Run(ctx context.Context, runID string) (*review.Report, error) {
	f.calls++
	if f.report != nil {
		f.report.RunID = runID
	}
	return f.report, f.err
}

func testPlan(stages ...plan.Stage) *plan.Plan {
	return &plan.Plan{Pipeline: "impl", Phase: "impl", Stages: stages}
}

func openStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(t.TempDir(), "task1", 25)
	require.NoError(t, err)
	return store
}

func TestRunCarriesUpstreamAcrossMutatingStages(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string][]byte{
		"codex_plan":      []byte("the plan"),
		"codex_implement": []byte("the diff"),
	}}
	store := openStore(t)
	o := NewOrchestrator(store, exec, nil, logging.NewTestLogger().Logger, 16*1024)

	res, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "codex_plan", Tool: plan.ToolCodex, Role: plan.RolePlan, Phase: "impl"},
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
		plan.Stage{ID: "gemini_verify", Tool: plan.ToolGemini, Role: plan.RoleVerify, Phase: "impl"},
		plan.Stage{ID: "codex_fix", Tool: plan.ToolCodex, Role: plan.RoleFix, Phase: "impl"},
	), "do the thing")
	require.NoError(t, err)
	require.Len(t, res.Stages, 4)
	assert.True(t, strings.HasPrefix(res.RunID, "run-"))

	// First stage sees no upstream; later stages see the most recent
	// context-mutating artifact. Verify inspects but does not mutate, so
	// the fix stage still receives the implement artifact.
	assert.Nil(t, exec.calls[0].upstream)
	assert.Equal(t, []byte("the plan"), exec.calls[1].upstream)
	assert.Equal(t, []byte("the diff"), exec.calls[2].upstream)
	assert.Equal(t, []byte("the diff"), exec.calls[3].upstream)
}

func TestRunResumedPropagatesSkippedStageArtifact(t *testing.T) {
	store := openStore(t)
	// A previous run completed implement and persisted its artifact.
	require.NoError(t, store.WriteArtifact("codex_implement", []byte("the implement diff")))
	require.NoError(t, store.MarkStageDone("codex_implement"))

	exec := &fakeExecutor{
		store:   store,
		outputs: map[string][]byte{"codex_fix": []byte("patched")},
	}
	o := NewOrchestrator(store, exec, nil, logging.NewTestLogger().Logger, 16*1024)

	res, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
		plan.Stage{ID: "codex_fix", Tool: plan.ToolCodex, Role: plan.RoleFix, Phase: "impl"},
	), "brief")
	require.NoError(t, err)

	// The resumed run must feed the fix stage the same upstream the first
	// run would have composed.
	require.Len(t, exec.calls, 2)
	assert.Equal(t, stage.StatusSkipped, res.Stages[0].Status)
	assert.Equal(t, []byte("the implement diff"), exec.calls[1].upstream)
}

func TestRunHaltsOnFirstFailure(t *testing.T) {
	failure := &stage.FailureError{StageID: "codex_implement", Class: classify.Auth, Reason: "401"}
	exec := &fakeExecutor{
		outputs: map[string][]byte{"codex_plan": []byte("the plan")},
		failOn:  map[string]error{"codex_implement": failure},
	}
	store := openStore(t)
	o := NewOrchestrator(store, exec, nil, logging.NewTestLogger().Logger, 16*1024)

	res, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "codex_plan", Tool: plan.ToolCodex, Role: plan.RolePlan, Phase: "impl"},
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
		plan.Stage{ID: "gemini_verify", Tool: plan.ToolGemini, Role: plan.RoleVerify, Phase: "impl"},
	), "brief")

	var fe *stage.FailureError
	require.ErrorAs(t, err, &fe)
	assert.Len(t, exec.calls, 2) // verify never ran
	assert.Len(t, res.Stages, 1)

	// Summary exists even after a halt.
	raw, rerr := os.ReadFile(store.SummaryPath())
	require.NoError(t, rerr)
	assert.Contains(t, string(raw), "# Task task1")
}

func TestRunRecordsUnclassifiedFailure(t *testing.T) {
	exec := &fakeExecutor{failOn: map[string]error{
		"codex_implement": errors.New("state dir vanished"),
	}}
	store := openStore(t)
	o := NewOrchestrator(store, exec, nil, logging.NewTestLogger().Logger, 16*1024)

	_, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
	), "brief")
	require.Error(t, err)

	lf, err := store.ReadLastFailure()
	require.NoError(t, err)
	require.NotNil(t, lf)
	assert.Equal(t, "codex_implement", lf.StageID)
	assert.Equal(t, string(classify.Unknown), lf.Class)
	assert.Contains(t, lf.StderrExcerpt, "state dir vanished")
}

func TestRunBudgetExhaustionGuidance(t *testing.T) {
	exec := &fakeExecutor{failOn: map[string]error{
		"codex_implement": state.ErrBudgetExhausted,
	}}
	store := openStore(t)
	o := NewOrchestrator(store, exec, nil, logging.NewTestLogger().Logger, 16*1024)

	_, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
	), "brief")
	require.ErrorIs(t, err, state.ErrBudgetExhausted)

	lf, err := store.ReadLastFailure()
	require.NoError(t, err)
	require.NotNil(t, lf)
	assert.Contains(t, lf.SuggestedActions[0], "budget.paid_calls")
}

func TestRunPanelDelegatesToReviewer(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string][]byte{"codex_implement": []byte("diff")}}
	rev := &fakeReviewer{report: &review.Report{}}
	store := openStore(t)
	o := NewOrchestrator(store, exec, rev, logging.NewTestLogger().Logger, 16*1024)

	p := testPlan(
		plan.Stage{ID: "codex_implement", Tool: plan.ToolCodex, Role: plan.RoleImplement, Phase: "impl"},
		plan.Stage{ID: "panel", Role: plan.RolePanel, Phase: "impl"},
	)
	res, err := o.Run(context.Background(), p, "brief")
	require.NoError(t, err)
	assert.Equal(t, 1, rev.calls)
	require.NotNil(t, res.Review)
	assert.Equal(t, res.RunID, res.Review.RunID)
	assert.True(t, store.IsStageDone("panel"))

	// A second run skips the completed panel stage.
	res2, err := o.Run(context.Background(), p, "brief")
	require.NoError(t, err)
	assert.Equal(t, 1, rev.calls)
	assert.Equal(t, stage.StatusSkipped, res2.Stages[1].Status)
}

func TestRunPanelWithoutReviewerFails(t *testing.T) {
	store := openStore(t)
	o := NewOrchestrator(store, &fakeExecutor{}, nil, logging.NewTestLogger().Logger, 16*1024)

	_, err := o.Run(context.Background(), testPlan(
		plan.Stage{ID: "panel", Role: plan.RolePanel, Phase: "impl"},
	), "brief")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no review coordinator")
}

func TestNewRunIDUnique(t *testing.T) {
	assert.NotEqual(t, NewRunID(), NewRunID())
}
