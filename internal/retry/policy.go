// Package retry decides whether a classified stage failure is retried,
// based on the cumulative per-signature count and the task retry budget.
package retry

import (
	"fmt"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
)

// Decision is the outcome of consulting the policy for one failure.
type Decision struct {
	// Retry requests one more attempt of the failed stage.
	Retry bool
	// Compaction requests escalated context compaction before the retry.
	Compaction bool
	// Report flags the failure for manual re-routing in the failure record.
	Report bool
	// Reason explains the decision for logs and the failure record.
	Reason string
}

// Decide consults the policy table. count is the cumulative occurrence
// count of the failure's signature including the current occurrence;
// retryBudget is the per-signature cap from config.
func Decide(class classify.Class, count, retryBudget int) Decision {
	switch class {
	case classify.Auth:
		return Decision{Reason: "auth failures stop immediately"}

	case classify.Transient:
		if count < retryBudget {
			return Decision{
				Retry:  true,
				Reason: fmt.Sprintf("transient, signature seen %d/%d times", count, retryBudget),
			}
		}
		return Decision{
			Reason: fmt.Sprintf("transient retry budget exhausted (%d/%d)", count, retryBudget),
		}

	case classify.PromptTooLarge:
		if count == 1 {
			return Decision{
				Retry:      true,
				Compaction: true,
				Reason:     "prompt too large, retrying once with escalated compaction",
			}
		}
		return Decision{Reason: "prompt still too large after compaction"}

	case classify.Tooling:
		return Decision{Reason: "tooling failures are not auto-retried"}

	case classify.ContractViolation:
		d := Decision{Reason: "contract violations are not auto-retried"}
		if count >= 2 {
			d.Report = true
			d.Reason = fmt.Sprintf("contract violated %d times, flagging for manual re-routing", count)
		}
		return d

	case classify.ScopeViolation:
		return Decision{Reason: "scope violations never retry"}

	case classify.Unknown:
		if count == 1 && count < retryBudget {
			return Decision{Retry: true, Reason: "unknown failure, treated as transient on first occurrence"}
		}
		return Decision{Reason: "unknown failure seen before, stopping"}
	}

	// Session mismatch and anything unrecognized stops outright.
	return Decision{Reason: fmt.Sprintf("class %q stops the pipeline", class)}
}
