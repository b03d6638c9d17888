package stage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

func TestComposeIncludesBriefAndUpstream(t *testing.T) {
	c := NewTemplateComposer()
	st := plan.Stage{ID: "codex_implement", Role: plan.RoleImplement}

	prompt, err := c.Compose(context.Background(), st, "add a retry flag", []byte("plan: step 1, step 2"), false)
	require.NoError(t, err)
	assert.Contains(t, prompt, "add a retry flag")
	assert.Contains(t, prompt, "plan: step 1, step 2")
	assert.Contains(t, prompt, "unified diff")
}

func TestComposeCompactionTruncatesUpstream(t *testing.T) {
	c := NewTemplateComposer()
	st := plan.Stage{ID: "codex_fix", Role: plan.RoleFix}
	upstream := []byte(strings.Repeat("x", compactedUpstreamLimit*3))

	full, err := c.Compose(context.Background(), st, "b", upstream, false)
	require.NoError(t, err)
	compact, err := c.Compose(context.Background(), st, "b", upstream, true)
	require.NoError(t, err)
	assert.Less(t, len(compact), len(full))
	assert.Contains(t, compact, "truncated")
}

func TestComposeUnknownRole(t *testing.T) {
	c := NewTemplateComposer()
	_, err := c.Compose(context.Background(), plan.Stage{Role: plan.RolePanel}, "b", nil, false)
	assert.Error(t, err)
}

func TestRequestHashStable(t *testing.T) {
	h1 := RequestHash("same prompt")
	h2 := RequestHash("same prompt")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 12)
	assert.NotEqual(t, h1, RequestHash("other prompt"))
}
