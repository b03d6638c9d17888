// Package pipeline sequences resolved plans: stages run strictly in plan
// order, one at a time, with the run summary regenerated after every
// attempt. The first stage failure stops the run; recovery is forward
// only, driven by done markers on the next invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/review"
	"github.com/fyrsmithlabs/stagehand/internal/stage"
	"github.com/fyrsmithlabs/stagehand/internal/state"
)

// NewRunID builds a sortable, unique run identifier.
func NewRunID() string {
	return fmt.Sprintf("run-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// StageExecutor runs a single non-panel stage. *stage.Executor is the
// production implementation.
type StageExecutor interface {
	Execute(ctx context.Context, st plan.Stage, brief string, upstream []byte) (*stage.Result, error)
}

// Reviewer runs a full review pass. *review.Coordinator is the
// production implementation.
type Reviewer interface {
	Run(ctx context.Context, runID string) (*review.Report, error)
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID  string
	Stages []stage.Result
	// Review is set when the plan contained a panel stage that ran.
	Review *review.Report
}

// Orchestrator drives one plan against one task's state.
type Orchestrator struct {
	store      *state.Store
	executor   StageExecutor
	reviewer   Reviewer
	logger     *logging.Logger
	summaryMax int
}

// NewOrchestrator builds a pipeline orchestrator. reviewer may be nil
// when the plan has no panel stage.
func NewOrchestrator(store *state.Store, executor StageExecutor, reviewer Reviewer, logger *logging.Logger, summaryMax int) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:      store,
		executor:   executor,
		reviewer:   reviewer,
		logger:     logger,
		summaryMax: summaryMax,
	}
}

// Run executes the plan stage by stage. The returned error is the first
// stage failure; completed stages keep their done markers so a re-run
// resumes where this one stopped.
func (o *Orchestrator) Run(ctx context.Context, p *plan.Plan, brief string) (*Result, error) {
	runID := NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	o.logger.Info(ctx, "pipeline run starting",
		zap.String("pipeline", p.Pipeline),
		zap.String("phase", p.Phase),
		zap.Int("stages", len(p.Stages)),
	)

	planOrder := p.StageIDs()
	regenerate := func(ctx context.Context) {
		content := RenderSummary(o.store.Snapshot(), planOrder, o.summaryMax)
		if err := o.store.WriteSummary(content); err != nil {
			o.logger.Error(ctx, "writing run summary failed", zap.Error(err))
		}
	}
	if ex, ok := o.executor.(*stage.Executor); ok {
		ex.AfterAttempt = regenerate
	}
	defer regenerate(ctx)

	result := &Result{RunID: runID}
	var upstream []byte

	for _, st := range p.Stages {
		if st.IsPanel() {
			if err := o.runPanel(ctx, st, runID, result); err != nil {
				return result, err
			}
			regenerate(ctx)
			continue
		}

		res, err := o.executor.Execute(ctx, st, brief, upstream)
		if err != nil {
			o.recordUnclassified(ctx, st, err)
			o.logger.Error(ctx, "pipeline halted on stage failure",
				zap.String("stage", st.ID), zap.Error(err))
			return result, err
		}
		result.Stages = append(result.Stages, *res)
		// Skipped stages carry their persisted artifact so a resumed run
		// composes the same downstream inputs as the original run.
		if st.Role.MutatesContext() && (res.Status == stage.StatusDone || res.Status == stage.StatusSkipped) {
			upstream = res.Artifact
		}
	}

	o.logger.Info(ctx, "pipeline run complete", zap.Int("stages_run", len(result.Stages)))
	return result, nil
}

// runPanel delegates a panel stage to the review coordinator, guarded by
// the same done-marker idempotency as single-call stages.
func (o *Orchestrator) runPanel(ctx context.Context, st plan.Stage, runID string, result *Result) error {
	if o.store.IsStageDone(st.ID) {
		o.logger.Info(ctx, "panel stage already done, skipping", zap.String("stage", st.ID))
		result.Stages = append(result.Stages, stage.Result{StageID: st.ID, Status: stage.StatusSkipped})
		return nil
	}
	if o.reviewer == nil {
		return fmt.Errorf("plan contains panel stage %s but no review coordinator is configured", st.ID)
	}

	report, err := o.reviewer.Run(ctx, runID)
	result.Review = report
	if err != nil {
		o.recordUnclassified(ctx, st, err)
		return fmt.Errorf("panel stage %s: %w", st.ID, err)
	}

	if err := o.store.MarkStageDone(st.ID); err != nil {
		return err
	}
	result.Stages = append(result.Stages, stage.Result{StageID: st.ID, Status: stage.StatusDone})
	return nil
}

// recordUnclassified writes a last-failure record for errors the stage
// executor did not already classify, so every halt leaves a structured
// record behind.
func (o *Orchestrator) recordUnclassified(ctx context.Context, st plan.Stage, err error) {
	var fe *stage.FailureError
	if errors.As(err, &fe) {
		return // executor already wrote its record
	}
	lf, rerr := o.store.ReadLastFailure()
	if rerr == nil && lf != nil && lf.StageID == st.ID {
		return // mismatch path already recorded
	}

	rec := &state.LastFailure{
		StageID: st.ID,
		Tool:    string(st.Tool),
		Class:   string(classify.Unknown),
	}
	if errors.Is(err, state.ErrBudgetExhausted) {
		rec.SuggestedActions = []string{"raise budget.paid_calls or start a new task"}
	} else {
		rec.StderrExcerpt = err.Error()
		rec.SuggestedActions = []string{"inspect the error and re-run; completed stages will be skipped"}
	}
	if werr := o.store.WriteLastFailure(rec); werr != nil {
		o.logger.Error(ctx, "writing last-failure record failed", zap.Error(werr))
	}
}
