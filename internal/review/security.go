package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
)

// securityGate runs the bounded escalation loop over the security lens's
// findings. It returns the terminal gate result and the queue with any
// security fixes it applied marked off.
//
// Critical stops immediately for human confirmation with no auto-fix.
// High enters the loop: apply fixes, run regression verification, re-run
// the security lens alone, recheck. The loop exits clean as soon as
// severity drops below high; exhausting max rounds ends non-fatally with
// high remaining. Anything below high is clean at round zero.
func (c *Coordinator) securityGate(ctx context.Context, findings []Finding, queue []FixQueueItem) (*SecurityGateResult, []FixQueueItem) {
	secFindings := filterLens(findings, securityLens)

	if criticals := filterSeverity(secFindings, SeverityCritical); len(criticals) > 0 {
		c.logger.Error(ctx, "critical security findings, stopping for human confirmation",
			zap.Int("count", len(criticals)))
		return &SecurityGateResult{
			FinalSeverity:    string(SeverityCritical),
			StopAction:       StopHaltForHuman,
			CriticalFindings: criticals,
		}, queue
	}

	high := filterSeverity(secFindings, SeverityMajor)
	if len(high) == 0 {
		return &SecurityGateResult{FinalSeverity: "none"}, queue
	}

	maxRounds := c.cfg.MaxSecurityRounds
	for round := 1; round <= maxRounds; round++ {
		c.logger.Info(ctx, "security escalation round",
			zap.Int("round", round),
			zap.Int("max_rounds", maxRounds),
			zap.Int("high_findings", len(high)),
		)

		// Apply the fixes queued for the current security findings,
		// sequentially like everything else in the queue.
		queue = c.applySecurityFixes(ctx, queue, high)

		if c.verify != nil {
			if err := c.verify(ctx); err != nil {
				c.logger.Warn(ctx, "regression verification failed after security fixes",
					zap.Int("round", round), zap.Error(err))
			}
		}

		recheck, err := c.rerunSecurityLens(ctx, round)
		if err != nil {
			c.logger.Warn(ctx, "security lens re-run failed, keeping prior findings",
				zap.Int("round", round), zap.Error(err))
		} else {
			high = filterSeverity(recheck, SeverityMajor)
			if criticals := filterSeverity(recheck, SeverityCritical); len(criticals) > 0 {
				// A fix round surfaced something worse; same rule as the
				// initial pass.
				return &SecurityGateResult{
					FinalSeverity:    string(SeverityCritical),
					StopAction:       StopHaltForHuman,
					RoundsRun:        round,
					CriticalFindings: criticals,
				}, queue
			}
		}

		if len(high) == 0 {
			c.logger.Info(ctx, "security severity dropped below high", zap.Int("rounds_run", round))
			return &SecurityGateResult{FinalSeverity: "none", RoundsRun: round}, queue
		}
	}

	c.logger.Warn(ctx, "security rounds exhausted with high findings remaining",
		zap.Int("rounds_run", maxRounds),
		zap.Int("remaining", len(high)),
	)
	return &SecurityGateResult{
		FinalSeverity:         "high",
		StopAction:            StopWarnHighRemaining,
		RoundsRun:             maxRounds,
		HighFindingsRemaining: high,
	}, queue
}

// applySecurityFixes executes just the queue items backing the given
// findings, leaving the rest pending for the main queue pass.
func (c *Coordinator) applySecurityFixes(ctx context.Context, queue []FixQueueItem, findings []Finding) []FixQueueItem {
	ids := make(map[int]bool, len(findings))
	for _, f := range findings {
		ids[f.FindingID] = true
	}

	var subset []FixQueueItem
	positions := make([]int, 0, len(findings))
	for i, item := range queue {
		if ids[item.FindingID] && item.Status == FixPending {
			subset = append(subset, item)
			positions = append(positions, i)
		}
	}

	subset = ExecuteQueue(ctx, c.logger, c.fixer, subset)
	for i, pos := range positions {
		queue[pos] = subset[i]
	}
	return queue
}

// rerunSecurityLens re-runs the security lens alone and parses the fresh
// findings. The re-run does not touch the other lenses' artifacts.
func (c *Coordinator) rerunSecurityLens(ctx context.Context, round int) ([]Finding, error) {
	var lens *config.LensConfig
	for i := range c.cfg.Lenses {
		if c.cfg.Lenses[i].Name == securityLens {
			lens = &c.cfg.Lenses[i]
			break
		}
	}
	if lens == nil {
		return nil, fmt.Errorf("no %s lens configured", securityLens)
	}

	out, err := c.runner.RunLens(logging.WithLens(ctx, securityLens), *lens)
	if err != nil {
		return nil, err
	}

	raw := ParseFindings(securityLens, out)
	merged, _ := Merge(ctx, c.logger, raw)
	return merged, nil
}

func filterLens(findings []Finding, lens string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Lens == lens {
			out = append(out, f)
		}
	}
	return out
}

func filterSeverity(findings []Finding, sev Severity) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}
