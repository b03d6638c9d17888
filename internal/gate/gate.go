// Package gate validates stage artifacts against their role's output
// contract. Gate verdicts feed directly into error classification: a
// scope breach classifies as scope_violation, everything else as
// contract_violation.
package gate

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// Violation is one broken contract requirement.
type Violation struct {
	Class  classify.Class
	Reason string
}

// Verdict is the gate's judgement of one artifact.
type Verdict struct {
	Violations []Violation
}

// Pass reports whether the artifact met its contract.
func (v Verdict) Pass() bool { return len(v.Violations) == 0 }

// WorstClass returns the classification for the verdict. Scope breaches
// outrank contract breaches.
func (v Verdict) WorstClass() classify.Class {
	if v.Pass() {
		return ""
	}
	for _, viol := range v.Violations {
		if viol.Class == classify.ScopeViolation {
			return classify.ScopeViolation
		}
	}
	return classify.ContractViolation
}

// Reasons flattens the violation reasons for logging and failure records.
func (v Verdict) Reasons() []string {
	out := make([]string, len(v.Violations))
	for i, viol := range v.Violations {
		out[i] = viol.Reason
	}
	return out
}

// Validator checks one stage artifact against its role contract.
type Validator interface {
	Validate(artifact []byte, role plan.Role) Verdict
}

// RoleValidator is the default contract validator.
type RoleValidator struct{}

// NewRoleValidator returns the default validator.
func NewRoleValidator() *RoleValidator { return &RoleValidator{} }

var (
	// Usage banners indicate a tool printed its help screen instead of
	// doing the work.
	helpOutputPattern = regexp.MustCompile(`(?mi)^\s*(usage:|flags:|available commands:|global options:)`)
	// Diff or file headers touching paths that escape the workspace.
	escapingPathPattern = regexp.MustCompile(`(?m)^(?:---|\+\+\+|diff --git)\s+(?:[ab]/)?(\.\./|/)`)
	// Fenced code or unified diff hunks: evidence of an actual change.
	changeEvidencePattern = regexp.MustCompile("(?m)^(```|@@ )")
)

// Validate applies the role contract to the artifact.
func (g *RoleValidator) Validate(artifact []byte, role plan.Role) Verdict {
	var v Verdict
	text := string(artifact)

	if strings.TrimSpace(text) == "" {
		v.Violations = append(v.Violations, Violation{
			Class:  classify.ContractViolation,
			Reason: "stage produced no output",
		})
		return v
	}

	if escapingPathPattern.MatchString(text) {
		v.Violations = append(v.Violations, Violation{
			Class:  classify.ScopeViolation,
			Reason: "artifact touches paths outside the workspace",
		})
	}

	switch role {
	case plan.RoleVerify:
		if helpOutputPattern.MatchString(text) && !changeEvidencePattern.MatchString(text) {
			v.Violations = append(v.Violations, Violation{
				Class:  classify.ContractViolation,
				Reason: "verification artifact is a help screen, not a test run",
			})
		}
	case plan.RoleImplement, plan.RoleFix:
		if !changeEvidencePattern.MatchString(text) {
			v.Violations = append(v.Violations, Violation{
				Class:  classify.ContractViolation,
				Reason: "no code change evidence in artifact (expected a diff or fenced block)",
			})
		}
	}

	return v
}
