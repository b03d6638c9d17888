package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// Composer builds the prompt payload for one stage call.
type Composer interface {
	// Compose assembles the request from the task brief, the role
	// template, and the artifact propagated from the previous
	// context-mutating stage. compacted requests a tighter rendering after
	// a prompt_too_large failure.
	Compose(ctx context.Context, st plan.Stage, brief string, upstream []byte, compacted bool) (string, error)
}

// roleTemplates are the per-role work instructions prefixed to the brief.
var roleTemplates = map[plan.Role]string{
	plan.RoleBrief:     "Summarize the task below into a short working brief: goals, constraints, and the files likely involved.",
	plan.RolePlan:      "Produce a step-by-step implementation plan for the task below. Number the steps and name the files each touches.",
	plan.RoleImplement: "Implement the task below. Show every change as a unified diff or fenced code block.",
	plan.RoleFix:       "Apply the fix described below. Show every change as a unified diff or fenced code block.",
	plan.RoleVerify:    "Run the project's tests and report results. Include the actual test output, not command help text.",
	plan.RoleReview:    "Review the changes described below and list concrete issues, one bullet per issue, each with file and line.",
}

// compactedUpstreamLimit bounds propagated context after a
// prompt_too_large failure.
const compactedUpstreamLimit = 4 * 1024

// TemplateComposer is the default request composer.
type TemplateComposer struct{}

// NewTemplateComposer returns the default composer.
func NewTemplateComposer() *TemplateComposer { return &TemplateComposer{} }

// Compose builds the prompt: role template, task brief, then propagated
// upstream context. Compaction drops upstream context to a bounded tail.
func (c *TemplateComposer) Compose(_ context.Context, st plan.Stage, brief string, upstream []byte, compacted bool) (string, error) {
	tmpl, ok := roleTemplates[st.Role]
	if !ok {
		return "", fmt.Errorf("no template for role %q", st.Role)
	}

	var b strings.Builder
	b.WriteString(tmpl)
	b.WriteString("\n\n# Task\n\n")
	b.WriteString(strings.TrimSpace(brief))

	if len(upstream) > 0 {
		ctx := upstream
		if compacted && len(ctx) > compactedUpstreamLimit {
			ctx = ctx[len(ctx)-compactedUpstreamLimit:]
		}
		b.WriteString("\n\n# Context from previous stage\n\n")
		b.Write(ctx)
	}
	if compacted {
		b.WriteString("\n\nBe brief; earlier context was truncated to fit the model window.")
	}

	return b.String(), nil
}

// RequestHash identifies a composed request in stage records. Prefix of
// the sha256, matching the signature hash length used elsewhere.
func RequestHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:12]
}
