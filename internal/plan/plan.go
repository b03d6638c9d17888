// Package plan defines resolved stage plans: the ordered work units a
// pipeline run executes, each bound to a tool, role, model, and deadline.
//
// Plans are produced by the config resolver and are immutable for the
// lifetime of a run. The orchestrator never re-resolves precedence.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// Tool identifies an external CLI the dispatcher can invoke.
type Tool string

// Known tools.
const (
	ToolCodex   Tool = "codex"
	ToolGemini  Tool = "gemini"
	ToolCopilot Tool = "copilot"
)

// Role identifies the kind of work a stage performs.
type Role string

// Known roles.
const (
	RoleBrief     Role = "brief"
	RolePlan      Role = "plan"
	RoleImplement Role = "implement"
	RoleFix       Role = "fix"
	RoleVerify    Role = "verify"
	RoleReview    Role = "review"
	// RolePanel marks a stage handled by the parallel review coordinator
	// rather than a single tool call.
	RolePanel Role = "panel"
)

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	switch r {
	case RoleBrief, RolePlan, RoleImplement, RoleFix, RoleVerify, RoleReview, RolePanel:
		return true
	}
	return false
}

// MutatesContext reports whether the stage's artifact feeds the next
// stage's inputs. Verify and review roles inspect; they do not produce
// carryover context.
func (r Role) MutatesContext() bool {
	switch r {
	case RoleBrief, RolePlan, RoleImplement, RoleFix:
		return true
	}
	return false
}

// DeadlineMode controls what happens when a stage call outlives its
// deadline.
type DeadlineMode string

const (
	// DeadlineEnforce kills the call at the deadline; the result is
	// classified as a timeout.
	DeadlineEnforce DeadlineMode = "enforce"
	// DeadlineWaitDone lets the call run to completion; the deadline is
	// advisory and only surfaces in heartbeat logs.
	DeadlineWaitDone DeadlineMode = "wait_done"
)

// Valid reports whether m is a recognized deadline mode.
func (m DeadlineMode) Valid() bool {
	return m == DeadlineEnforce || m == DeadlineWaitDone
}

// Stage is one resolved work unit.
type Stage struct {
	ID           string        `json:"id"`
	Tool         Tool          `json:"tool"`
	Role         Role          `json:"role"`
	Phase        string        `json:"phase"`
	Model        string        `json:"model,omitempty"`
	Effort       string        `json:"effort,omitempty"`
	Deadline     time.Duration `json:"deadline"`
	DeadlineMode DeadlineMode  `json:"deadline_mode"`
}

// IsPanel reports whether the stage fans out to the review coordinator.
func (s Stage) IsPanel() bool {
	return s.Role == RolePanel
}

// Plan is an ordered, immutable sequence of resolved stages.
type Plan struct {
	Pipeline string  `json:"pipeline"`
	Phase    string  `json:"phase"`
	Stages   []Stage `json:"stages"`
}

// StageIDs returns the stage ids in plan order.
func (p *Plan) StageIDs() []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.ID
	}
	return ids
}

// ParseStageID splits a stage id of the form "<tool>_<role>".
// The bare id "panel" maps to the coordinator stage with no tool.
func ParseStageID(id string) (Tool, Role, error) {
	if id == string(RolePanel) {
		return "", RolePanel, nil
	}
	tool, role, ok := strings.Cut(id, "_")
	if !ok {
		return "", "", fmt.Errorf("stage id %q is not of the form <tool>_<role>", id)
	}
	r := Role(role)
	if !r.Valid() || r == RolePanel {
		return "", "", fmt.Errorf("stage id %q has unknown role %q", id, role)
	}
	if tool == "" {
		return "", "", fmt.Errorf("stage id %q has empty tool", id)
	}
	return Tool(tool), r, nil
}
