// Package stage executes single pipeline stages: idempotency via done
// markers, budget accounting, adapter invocation with progress
// heartbeats, gate validation, and the signature-scoped retry loop.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/adapter"
	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/gate"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/retry"
	"github.com/fyrsmithlabs/stagehand/internal/secrets"
	"github.com/fyrsmithlabs/stagehand/internal/session"
	"github.com/fyrsmithlabs/stagehand/internal/state"
	"github.com/fyrsmithlabs/stagehand/internal/telemetry"
)

// Stage outcome statuses.
const (
	StatusDone = "done"
	// StatusSkipped marks a stage short-circuited by its done marker.
	StatusSkipped = "skipped"
)

// Result is a successful stage execution.
type Result struct {
	StageID  string
	Status   string
	Artifact []byte
	Attempts int
}

// FailureError carries the classified failure that stopped a stage.
type FailureError struct {
	StageID   string
	Class     classify.Class
	Signature string
	ExitCode  int
	Reason    string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %s", e.StageID, e.Class, e.Reason)
}

// Executor runs one stage at a time against the shared task state.
type Executor struct {
	store       *state.Store
	invoker     adapter.Invoker
	gate        gate.Validator
	sessions    *session.Manager
	composer    Composer
	scrubber    *secrets.Scrubber
	logger      *logging.Logger
	ins         *telemetry.Instruments
	heartbeat   time.Duration
	retryBudget int

	// AfterAttempt runs after every attempt, success or failure. The
	// orchestrator uses it to regenerate the run summary.
	AfterAttempt func(ctx context.Context)
}

// Options bundles the Executor's collaborators.
type Options struct {
	Store       *state.Store
	Invoker     adapter.Invoker
	Gate        gate.Validator
	Sessions    *session.Manager
	Composer    Composer
	Scrubber    *secrets.Scrubber
	Logger      *logging.Logger
	Instruments *telemetry.Instruments
	Heartbeat   time.Duration
	RetryBudget int
}

// NewExecutor builds a stage executor.
func NewExecutor(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Composer == nil {
		opts.Composer = NewTemplateComposer()
	}
	if opts.Gate == nil {
		opts.Gate = gate.NewRoleValidator()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	return &Executor{
		store:       opts.Store,
		invoker:     opts.Invoker,
		gate:        opts.Gate,
		sessions:    opts.Sessions,
		composer:    opts.Composer,
		scrubber:    opts.Scrubber,
		logger:      opts.Logger,
		ins:         opts.Instruments,
		heartbeat:   opts.Heartbeat,
		retryBudget: opts.RetryBudget,
	}
}

// Execute runs one stage to completion, retrying per the policy table.
// upstream is the artifact propagated from the previous context-mutating
// stage, nil for the first.
func (e *Executor) Execute(ctx context.Context, st plan.Stage, brief string, upstream []byte) (*Result, error) {
	ctx = logging.WithStageID(ctx, st.ID)

	if e.store.IsStageDone(st.ID) {
		artifact, err := e.store.ReadArtifact(st.ID)
		if err != nil {
			return nil, fmt.Errorf("reading artifact for completed stage %s: %w", st.ID, err)
		}
		e.logger.Info(ctx, "stage already done, skipping", zap.String("stage", st.ID))
		return &Result{StageID: st.ID, Status: StatusSkipped, Artifact: artifact}, nil
	}

	compacted := false
	for attempt := 1; ; attempt++ {
		artifact, failure, err := e.attempt(ctx, st, brief, upstream, compacted)
		if e.AfterAttempt != nil {
			e.AfterAttempt(ctx)
		}
		if err != nil {
			// Infrastructure or continuity errors bypass the retry table.
			var mm *session.MismatchError
			if errors.As(err, &mm) {
				e.writeMismatchFailure(ctx, st, mm)
			}
			return nil, err
		}
		if failure == nil {
			return &Result{StageID: st.ID, Status: StatusDone, Artifact: artifact, Attempts: attempt}, nil
		}

		sig, serr := e.store.RecordSignature(string(failure.Class), failure.Signature)
		if serr != nil {
			return nil, serr
		}

		decision := retry.Decide(failure.Class, sig.Count, e.retryBudget)
		e.logger.Warn(ctx, "stage attempt failed",
			zap.String("stage", st.ID),
			zap.String("class", string(failure.Class)),
			zap.String("signature", failure.Signature),
			zap.Int("signature_count", sig.Count),
			zap.Bool("retrying", decision.Retry),
			zap.String("reason", decision.Reason),
		)

		if !decision.Retry {
			failure.Reason = decision.Reason
			e.writeFailure(ctx, st, failure, decision)
			return nil, failure
		}

		if err := e.store.RecordRetry(); err != nil {
			return nil, err
		}
		e.ins.RecordRetry(ctx, st.ID, string(failure.Class))
		compacted = compacted || decision.Compaction
	}
}

// attempt performs exactly one adapter invocation. It returns the
// artifact on success, a classified *FailureError on a retryable-or-not
// stage failure, or a hard error that stops everything.
func (e *Executor) attempt(ctx context.Context, st plan.Stage, brief string, upstream []byte, compacted bool) ([]byte, *FailureError, error) {
	// Budget and composition come before anything is charged; the reserve
	// below is the one step that both checks and spends.
	prompt, err := e.composer.Compose(ctx, st, brief, upstream, compacted)
	if err != nil {
		return nil, nil, fmt.Errorf("composing request for %s: %w", st.ID, err)
	}

	handle, err := e.sessions.PreStage(ctx, st.Phase, st.Tool)
	if err != nil {
		return nil, nil, err
	}

	if _, err := e.store.ReservePaidCall(); err != nil {
		handle.Abort()
		return nil, nil, err
	}

	attempt, err := e.store.RecordStageStart(st.ID, string(st.Tool), RequestHash(prompt))
	if err != nil {
		handle.Abort()
		return nil, nil, err
	}
	e.logger.Info(ctx, "stage attempt started",
		zap.String("stage", st.ID),
		zap.String("tool", string(st.Tool)),
		zap.Int("attempt", attempt),
		zap.Bool("compacted", compacted),
	)

	stopHeartbeat := e.startHeartbeat(ctx, st)
	res, invErr := e.invoker.Invoke(ctx, st.Tool, adapter.Request{
		Prompt:          prompt,
		Model:           st.Model,
		Effort:          st.Effort,
		Deadline:        st.Deadline,
		DeadlineMode:    st.DeadlineMode,
		ResumeSessionID: handle.ResumeID,
	})
	stopHeartbeat()

	if invErr != nil {
		// The adapter could not even attempt the call; the reserve already
		// charged it, which is the documented cost of an attempt.
		handle.Abort()
		if endErr := e.store.RecordStageEnd(st.ID, -1, state.StageFailed); endErr != nil {
			e.logger.Error(ctx, "recording stage end failed", zap.Error(endErr))
		}
		return nil, nil, fmt.Errorf("invoking %s: %w", st.Tool, invErr)
	}

	e.ins.RecordPaidCall(ctx, string(st.Tool))

	status := state.StageDone
	if res.Status != classify.ExitSuccess {
		status = state.StageFailed
	}
	if err := e.store.RecordStageEnd(st.ID, res.ExitCode, status); err != nil {
		return nil, nil, err
	}

	if err := handle.Finish(ctx, res); err != nil {
		e.ins.RecordStage(ctx, st.ID, string(st.Tool), "session_mismatch", res.Elapsed)
		return nil, nil, err
	}

	if res.Status != classify.ExitSuccess {
		cls := classify.Classify(classify.Input{
			Status:   res.Status,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		})
		e.ins.RecordStage(ctx, st.ID, string(st.Tool), string(cls.Class), res.Elapsed)
		return nil, &FailureError{
			StageID:   st.ID,
			Class:     cls.Class,
			Signature: cls.Signature,
			ExitCode:  res.ExitCode,
			Reason:    firstLine(res.Stderr),
		}, nil
	}

	verdict := e.gate.Validate(res.Artifact, st.Role)
	if !verdict.Pass() {
		cls := classify.Classify(classify.Input{
			Status:        res.Status,
			ExitCode:      res.ExitCode,
			Stderr:        strings.Join(verdict.Reasons(), "; "),
			GateViolation: verdict.WorstClass(),
		})
		if err := e.store.RecordStageEnd(st.ID, res.ExitCode, state.StageFailed); err != nil {
			return nil, nil, err
		}
		e.ins.RecordStage(ctx, st.ID, string(st.Tool), string(cls.Class), res.Elapsed)
		return nil, &FailureError{
			StageID:   st.ID,
			Class:     cls.Class,
			Signature: cls.Signature,
			ExitCode:  res.ExitCode,
			Reason:    strings.Join(verdict.Reasons(), "; "),
		}, nil
	}

	if err := e.store.WriteArtifact(st.ID, res.Artifact); err != nil {
		return nil, nil, err
	}
	if err := e.store.MarkStageDone(st.ID); err != nil {
		return nil, nil, err
	}
	e.ins.RecordStage(ctx, st.ID, string(st.Tool), "success", res.Elapsed)
	e.logger.Info(ctx, "stage completed",
		zap.String("stage", st.ID),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res.Artifact, nil, nil
}

// startHeartbeat logs periodic progress while the blocking call runs.
func (e *Executor) startHeartbeat(ctx context.Context, st plan.Stage) (stop func()) {
	done := make(chan struct{})
	start := time.Now()
	go func() {
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.logger.Info(ctx, "stage still running",
					zap.String("stage", st.ID),
					zap.Duration("elapsed", time.Since(start).Round(time.Second)),
					zap.Duration("deadline", st.Deadline),
				)
			}
		}
	}()
	return func() { close(done) }
}

func (e *Executor) writeFailure(ctx context.Context, st plan.Stage, f *FailureError, d retry.Decision) {
	excerpt := f.Reason
	if redacted, n := e.scrubber.Scrub(excerpt); n > 0 {
		excerpt = redacted
	}
	rec := &state.LastFailure{
		StageID:          st.ID,
		Tool:             string(st.Tool),
		Class:            string(f.Class),
		Signature:        f.Signature,
		ExitCode:         f.ExitCode,
		StderrExcerpt:    excerpt,
		SuggestedActions: suggestedActions(f.Class, d),
	}
	if err := e.store.WriteLastFailure(rec); err != nil {
		e.logger.Error(ctx, "writing last-failure record failed", zap.Error(err))
	}
}

func (e *Executor) writeMismatchFailure(ctx context.Context, st plan.Stage, mm *session.MismatchError) {
	rec := &state.LastFailure{
		StageID:  st.ID,
		Tool:     string(st.Tool),
		Class:    string(classify.SessionMismatch),
		Recovery: mm.Recovery(),
		SuggestedActions: []string{
			"follow the recovery steps, then re-run the pipeline",
		},
	}
	if err := e.store.WriteLastFailure(rec); err != nil {
		e.logger.Error(ctx, "writing last-failure record failed", zap.Error(err))
	}
}

// suggestedActions maps a failure class to concrete operator guidance.
func suggestedActions(class classify.Class, d retry.Decision) []string {
	switch class {
	case classify.Auth:
		return []string{"re-authenticate the tool CLI, then re-run the pipeline"}
	case classify.Transient:
		return []string{"retries exhausted; check tool/service status and re-run"}
	case classify.PromptTooLarge:
		return []string{"shrink the task brief or split the stage; compaction was not enough"}
	case classify.Tooling:
		return []string{"verify the tool binary is installed and on PATH"}
	case classify.ContractViolation:
		actions := []string{"inspect the stage artifact against its role contract"}
		if d.Report {
			actions = append(actions, "repeated contract violations: consider re-routing this stage to a different tool")
		}
		return actions
	case classify.ScopeViolation:
		return []string{"the tool attempted out-of-scope changes; review its prompt and sandbox settings"}
	default:
		return []string{"inspect the stderr excerpt; cause did not match a known failure family"}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
