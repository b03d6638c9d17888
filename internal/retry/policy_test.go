package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
)

func TestDecide_AuthNeverRetries(t *testing.T) {
	for count := 1; count <= 3; count++ {
		d := Decide(classify.Auth, count, 5)
		assert.False(t, d.Retry, "count=%d", count)
	}
}

func TestDecide_TransientWithinBudget(t *testing.T) {
	// retry_budget=2: first failure retries, second stops
	d := Decide(classify.Transient, 1, 2)
	assert.True(t, d.Retry)

	d = Decide(classify.Transient, 2, 2)
	assert.False(t, d.Retry)
}

func TestDecide_TransientZeroBudget(t *testing.T) {
	d := Decide(classify.Transient, 1, 0)
	assert.False(t, d.Retry)
}

func TestDecide_TransientRetriesNeverExceedBudget(t *testing.T) {
	budget := 4
	retries := 0
	for count := 1; count <= 10; count++ {
		if Decide(classify.Transient, count, budget).Retry {
			retries++
		}
	}
	assert.LessOrEqual(t, retries, budget)
}

func TestDecide_PromptTooLargeOnce(t *testing.T) {
	d := Decide(classify.PromptTooLarge, 1, 2)
	assert.True(t, d.Retry)
	assert.True(t, d.Compaction)

	d = Decide(classify.PromptTooLarge, 2, 2)
	assert.False(t, d.Retry)
}

func TestDecide_ToolingNoRetry(t *testing.T) {
	d := Decide(classify.Tooling, 1, 5)
	assert.False(t, d.Retry)
}

func TestDecide_ContractViolationReportsAtTwo(t *testing.T) {
	d := Decide(classify.ContractViolation, 1, 5)
	assert.False(t, d.Retry)
	assert.False(t, d.Report)

	d = Decide(classify.ContractViolation, 2, 5)
	assert.False(t, d.Retry)
	assert.True(t, d.Report)

	d = Decide(classify.ContractViolation, 3, 5)
	assert.True(t, d.Report)
}

func TestDecide_ScopeViolationNeverRetries(t *testing.T) {
	d := Decide(classify.ScopeViolation, 1, 5)
	assert.False(t, d.Retry)
}

func TestDecide_UnknownFirstOccurrenceOnly(t *testing.T) {
	d := Decide(classify.Unknown, 1, 2)
	assert.True(t, d.Retry)

	d = Decide(classify.Unknown, 2, 2)
	assert.False(t, d.Retry)
}

func TestDecide_UnknownRespectsBudget(t *testing.T) {
	d := Decide(classify.Unknown, 1, 0)
	assert.False(t, d.Retry)
}

func TestDecide_SessionMismatchStops(t *testing.T) {
	d := Decide(classify.SessionMismatch, 1, 5)
	assert.False(t, d.Retry)
}

func TestDecide_ReasonAlwaysSet(t *testing.T) {
	classes := []classify.Class{
		classify.Auth, classify.Transient, classify.PromptTooLarge,
		classify.Tooling, classify.ContractViolation, classify.ScopeViolation,
		classify.Unknown, classify.SessionMismatch,
	}
	for _, c := range classes {
		d := Decide(c, 1, 2)
		assert.NotEmpty(t, d.Reason, "class %s", c)
	}
}
