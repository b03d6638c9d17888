package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/state"
	"github.com/fyrsmithlabs/stagehand/internal/telemetry"
)

// WatchdogGrace bounds how long the barrier waits for cancelled workers
// to acknowledge after the shared timeout fires. Total barrier
// wall-clock never exceeds timeout + grace.
const WatchdogGrace = 10 * time.Second

// ErrJoinBarrier is the hard barrier failure: a worker neither finished
// nor acknowledged cancellation within the watchdog grace.
var ErrJoinBarrier = errors.New("join barrier failed")

// securityLens is the lens name the escalation loop keys on.
const securityLens = "security"

// reportArtifact is the review report filename under the task's review
// directory.
const reportArtifact = "report.json"

// Runner executes a single lens analysis and returns its free-text
// output. Implementations write their own isolated artifact; workers
// share nothing mutable beyond the guarded state store.
type Runner interface {
	RunLens(ctx context.Context, lens config.LensConfig) (string, error)
}

// Coordinator drives the review state machine:
// Launch → Join → Merge → BuildQueue → ExecuteQueue → SecurityEscalation.
type Coordinator struct {
	cfg    config.ReviewConfig
	store  *state.Store
	runner Runner
	fixer  Fixer
	// verify runs the local regression command between fix application
	// and the security re-check. Nil skips verification.
	verify func(ctx context.Context) error
	logger *logging.Logger
	ins    *telemetry.Instruments

	// now is swapped in tests.
	now func() time.Time
}

// NewCoordinator builds a review coordinator. fixer may be nil (queue
// items are skipped); verify may be nil (regression check skipped).
func NewCoordinator(cfg config.ReviewConfig, store *state.Store, runner Runner, fixer Fixer, verify func(ctx context.Context) error, logger *logging.Logger, ins *telemetry.Instruments) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		runner: runner,
		fixer:  fixer,
		verify: verify,
		logger: logger,
		ins:    ins,
		now:    time.Now,
	}
}

// lensResult travels from a worker goroutine to the join barrier.
type lensResult struct {
	lens    string
	output  string
	err     error
	elapsed time.Duration
}

// Run executes the full review pass and persists the report.
func (c *Coordinator) Run(ctx context.Context, runID string) (*Report, error) {
	report := &Report{
		RunID:     runID,
		StartedAt: c.now().UTC(),
	}
	if prov, err := CollectProvenance("."); err == nil {
		report.Provenance = prov
	}

	outputs, statuses, err := c.launchAndJoin(ctx)
	report.Lenses = statuses
	if err != nil {
		return report, err
	}

	var raw []RawFinding
	securityRan := false
	for _, ls := range statuses {
		switch ls.State {
		case LensFinished:
			if ls.Lens == securityLens {
				securityRan = true
			}
			raw = append(raw, ParseFindings(ls.Lens, outputs[ls.Lens])...)
		case LensDegraded:
			// A failed lens becomes a placeholder finding instead of
			// aborting the barrier.
			raw = append(raw, RawFinding{
				Lens:       ls.Lens,
				Issue:      fmt.Sprintf("lens degraded: %s analysis unavailable (%s)", ls.Lens, ls.Error),
				Severity:   SeverityMinor,
				Confidence: "medium",
			})
		}
	}

	findings, stats := Merge(ctx, c.logger, raw)
	report.Findings = findings
	report.Merge = stats
	for _, f := range findings {
		c.ins.RecordFindings(ctx, string(f.Severity), 1)
	}
	c.logger.Info(ctx, "review merge complete",
		zap.Int("raw", stats.RawCount),
		zap.Int("merged", stats.FindingCount),
		zap.Int("conflicts_resolved", stats.ConflictsResolved),
	)

	queue := BuildQueue(findings)

	var security *SecurityGateResult
	if securityRan && hasLensFindings(findings, securityLens) {
		security, queue = c.securityGate(ctx, findings, queue)
		report.Security = security
	}

	if security == nil || security.StopAction != StopHaltForHuman {
		queue = ExecuteQueue(ctx, c.logger, c.fixer, queue)
	}
	report.Queue = queue
	report.EndedAt = c.now().UTC()

	if err := c.persistReport(report); err != nil {
		return report, err
	}
	return report, nil
}

// launchAndJoin starts every lens worker and waits on the shared
// barrier. One timeout bounds the whole barrier; on expiry the watchdog
// cancels all outstanding workers and marks them timed out.
func (c *Coordinator) launchAndJoin(ctx context.Context) (map[string]string, []LensStatus, error) {
	lenses := c.cfg.Lenses
	results := make(chan lensResult, len(lenses))
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, lens := range lenses {
		lens := lens
		go func() {
			lctx := logging.WithLens(workerCtx, lens.Name)
			start := time.Now()
			out, err := c.runner.RunLens(lctx, lens)
			results <- lensResult{lens: lens.Name, output: out, err: err, elapsed: time.Since(start)}
		}()
	}
	c.logger.Info(ctx, "review fan-out launched",
		zap.Int("lenses", len(lenses)),
		zap.Duration("barrier_timeout", c.cfg.BarrierTimeout.Duration()),
	)

	outputs := make(map[string]string, len(lenses))
	done := make(map[string]LensStatus, len(lenses))

	collect := func(r lensResult) {
		status := LensStatus{Lens: r.lens, Elapsed: r.elapsed}
		if r.err != nil {
			status.State = LensDegraded
			status.Error = r.err.Error()
			c.logger.Warn(ctx, "lens degraded", zap.String("lens", r.lens), zap.Error(r.err))
		} else {
			status.State = LensFinished
			outputs[r.lens] = r.output
		}
		done[r.lens] = status
		c.ins.RecordLens(ctx, r.lens, status.State, r.elapsed)
	}

	timer := time.NewTimer(c.cfg.BarrierTimeout.Duration())
	defer timer.Stop()

	timedOut := false
	for len(done) < len(lenses) && !timedOut {
		select {
		case r := <-results:
			collect(r)
		case <-timer.C:
			timedOut = true
		case <-ctx.Done():
			cancel()
			return outputs, statusesInOrder(lenses, done), ctx.Err()
		}
	}

	if timedOut {
		// Watchdog: cancel everything still running, then give workers a
		// bounded grace to acknowledge.
		cancel()
		c.logger.Warn(ctx, "join barrier timed out, watchdog cancelling workers",
			zap.Int("unfinished", len(lenses)-len(done)))

		grace := time.NewTimer(WatchdogGrace)
		defer grace.Stop()
		for len(done) < len(lenses) {
			select {
			case r := <-results:
				r.err = fmt.Errorf("barrier timeout after %s", c.cfg.BarrierTimeout.Duration())
				status := LensStatus{Lens: r.lens, State: LensTimedOut, Elapsed: r.elapsed, Error: r.err.Error()}
				done[r.lens] = status
				c.ins.RecordLens(ctx, r.lens, LensTimedOut, r.elapsed)
			case <-grace.C:
				// A worker that cannot even acknowledge cancellation is an
				// invalid handle: hard join failure.
				return outputs, statusesInOrder(lenses, done),
					fmt.Errorf("%w: %d workers unresponsive after watchdog grace", ErrJoinBarrier, len(lenses)-len(done))
			}
		}
	}

	return outputs, statusesInOrder(lenses, done), nil
}

func statusesInOrder(lenses []config.LensConfig, done map[string]LensStatus) []LensStatus {
	out := make([]LensStatus, 0, len(done))
	for _, l := range lenses {
		if s, ok := done[l.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func hasLensFindings(findings []Finding, lens string) bool {
	for _, f := range findings {
		if f.Lens == lens {
			return true
		}
	}
	return false
}

func (c *Coordinator) persistReport(report *Report) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling review report: %w", err)
	}
	return c.store.WriteReviewArtifact(reportArtifact, raw)
}
