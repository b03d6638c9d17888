package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

func TestEmptyArtifactFailsContract(t *testing.T) {
	g := NewRoleValidator()
	v := g.Validate([]byte("   \n\t"), plan.RoleBrief)
	assert.False(t, v.Pass())
	assert.Equal(t, classify.ContractViolation, v.WorstClass())
}

func TestHelpOutputAsVerification(t *testing.T) {
	g := NewRoleValidator()
	artifact := []byte("Usage: pytest [options]\nFlags:\n  -v  verbose\n")
	v := g.Validate(artifact, plan.RoleVerify)
	assert.False(t, v.Pass())
	assert.Equal(t, classify.ContractViolation, v.WorstClass())
	assert.Contains(t, v.Reasons()[0], "help screen")
}

func TestRealTestRunPassesVerify(t *testing.T) {
	g := NewRoleValidator()
	artifact := []byte("ran 42 tests\n```\nok   pkg/foo 0.3s\n```\nall passing")
	v := g.Validate(artifact, plan.RoleVerify)
	assert.True(t, v.Pass())
}

func TestImplementRequiresChangeEvidence(t *testing.T) {
	g := NewRoleValidator()

	v := g.Validate([]byte("I thought about it and decided not to change anything."), plan.RoleImplement)
	assert.False(t, v.Pass())
	assert.Equal(t, classify.ContractViolation, v.WorstClass())

	withDiff := []byte("applied change:\n@@ -1,3 +1,4 @@\n+new line\n")
	assert.True(t, g.Validate(withDiff, plan.RoleImplement).Pass())

	withFence := []byte("wrote:\n```python\nprint('hi')\n```\n")
	assert.True(t, g.Validate(withFence, plan.RoleFix).Pass())
}

func TestEscapingPathIsScopeViolation(t *testing.T) {
	g := NewRoleValidator()
	artifact := []byte("patching\n--- /etc/passwd\n+++ /etc/passwd\n@@ -1 +1 @@\n")
	v := g.Validate(artifact, plan.RoleImplement)
	assert.False(t, v.Pass())
	// Scope outranks the contract issues in the same artifact.
	assert.Equal(t, classify.ScopeViolation, v.WorstClass())
}

func TestBriefRoleOnlyNeedsOutput(t *testing.T) {
	g := NewRoleValidator()
	v := g.Validate([]byte("short summary of the task"), plan.RoleBrief)
	assert.True(t, v.Pass())
}
