package review

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/logging"
)

// BuildQueue orders merged findings most severe first (ties keep
// discovery order) and derives one action per item: the lens's proposal
// when it gave one, the raw issue text otherwise.
func BuildQueue(findings []Finding) []FixQueueItem {
	items := make([]FixQueueItem, 0, len(findings))
	for _, f := range findings {
		action := f.Proposal
		if action == "" {
			action = f.Issue
		}
		items = append(items, FixQueueItem{
			FindingID:  f.FindingID,
			TargetFile: f.TargetFile,
			Action:     action,
			Priority:   f.Severity.Rank(),
			Status:     FixPending,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority < items[j].Priority
	})
	for i := range items {
		items[i].QueueID = i + 1
	}
	return items
}

// Fixer applies one queued fix. Implementations are invoked strictly
// sequentially; patches may conflict, so the queue never parallelizes.
type Fixer interface {
	ApplyFix(ctx context.Context, item FixQueueItem) error
}

// ExecuteQueue applies items one at a time. Each item's outcome is
// independent; a failure does not block later items. A nil fixer marks
// every remaining item skipped.
func ExecuteQueue(ctx context.Context, logger *logging.Logger, fixer Fixer, items []FixQueueItem) []FixQueueItem {
	if logger == nil {
		logger = logging.NewNop()
	}

	for i := range items {
		if items[i].Status != FixPending {
			continue
		}
		if fixer == nil {
			items[i].Status = FixSkipped
			items[i].Note = "no fix tool configured"
			continue
		}
		if err := ctx.Err(); err != nil {
			items[i].Status = FixSkipped
			items[i].Note = "run cancelled"
			continue
		}

		if err := fixer.ApplyFix(ctx, items[i]); err != nil {
			items[i].Status = FixFailed
			items[i].Note = err.Error()
			logger.Warn(ctx, "fix application failed",
				zap.Int("queue_id", items[i].QueueID),
				zap.String("target_file", items[i].TargetFile),
				zap.Error(err),
			)
			continue
		}
		items[i].Status = FixApplied
		logger.Info(ctx, "fix applied",
			zap.Int("queue_id", items[i].QueueID),
			zap.String("target_file", items[i].TargetFile),
		)
	}
	return items
}
