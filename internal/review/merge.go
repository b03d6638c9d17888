package review

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/logging"
)

var issueNoisePattern = regexp.MustCompile(`[^a-z0-9 ]+`)

// normalizeIssue reduces issue text to its dedup form: lowercase,
// punctuation stripped, whitespace collapsed.
func normalizeIssue(issue string) string {
	s := strings.ToLower(issue)
	s = issueNoisePattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func dedupKey(f RawFinding) string {
	return f.TargetFile + "\x00" + normalizeIssue(f.Issue)
}

// Merge deduplicates raw findings across lenses. Key is (target file,
// normalized issue text); on collision the higher severity wins and the
// resolution is logged. Finding ids are assigned sequentially in final
// output order, which is first-appearance order.
func Merge(ctx context.Context, logger *logging.Logger, raw []RawFinding) ([]Finding, MergeStats) {
	if logger == nil {
		logger = logging.NewNop()
	}

	stats := MergeStats{RawCount: len(raw)}
	index := make(map[string]int, len(raw)) // dedup key -> position in merged
	var merged []RawFinding

	for _, f := range raw {
		key := dedupKey(f)
		pos, seen := index[key]
		if !seen {
			index[key] = len(merged)
			merged = append(merged, f)
			continue
		}

		kept := &merged[pos]
		if f.Severity.MoreSevere(kept.Severity) {
			logger.Info(ctx, "finding severity conflict resolved",
				zap.String("target_file", f.TargetFile),
				zap.String("kept_lens", f.Lens),
				zap.String("dropped_lens", kept.Lens),
				zap.String("from", string(kept.Severity)),
				zap.String("to", string(f.Severity)),
			)
			kept.Severity = f.Severity
			kept.Lens = f.Lens
			if f.Proposal != "" {
				kept.Proposal = f.Proposal
			}
		}
		kept.UsesExternalEvidence = kept.UsesExternalEvidence || f.UsesExternalEvidence
		stats.ConflictsResolved++
	}

	out := make([]Finding, len(merged))
	for i, f := range merged {
		out[i] = Finding{FindingID: i + 1, RawFinding: f}
	}
	stats.FindingCount = len(out)
	return out, stats
}
