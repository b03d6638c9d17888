package config

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// Overrides carries per-run resolution overrides from the CLI.
type Overrides struct {
	// Profile selects a named profile; empty means "default".
	Profile string
	// Stages replaces the stage list outright.
	Stages []string
	// Model forces the model for every tool stage.
	Model string
	// Effort forces the reasoning effort for codex stages.
	Effort string
	// Flags merge over the profile's flags.
	Flags map[string]bool
}

// Resolve produces the immutable stage plan for one run of pipelineID.
//
// Precedence per stage: CLI override > profile stage setting > tool
// purpose default > tool default. Flag filters remove optional stages by
// role: enable_brief,
// enable_verify, enable_review (the last also governs panel stages). A
// flag absent from both profile and overrides leaves the stage in place.
func (c *Config) Resolve(pipelineID string, ov Overrides) (*plan.Plan, error) {
	pipe, ok := c.Pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (known: %v)", pipelineID, c.pipelineIDs())
	}

	profName := ov.Profile
	if profName == "" {
		profName = "default"
	}
	prof, ok := c.Profiles[profName]
	if !ok && ov.Profile != "" {
		return nil, fmt.Errorf("unknown profile %q", ov.Profile)
	}

	if ov.Effort != "" && !contains(EffortValues, ov.Effort) {
		return nil, fmt.Errorf("effort must be one of %v, got %q", EffortValues, ov.Effort)
	}

	stageIDs := pipe.Stages
	if len(prof.Stages) > 0 {
		stageIDs = prof.Stages
	}
	if len(ov.Stages) > 0 {
		stageIDs = ov.Stages
	}

	flags := mergeFlags(prof.Flags, ov.Flags)

	var stages []plan.Stage
	seen := make(map[string]bool, len(stageIDs))
	for _, id := range stageIDs {
		tool, role, err := plan.ParseStageID(id)
		if err != nil {
			return nil, err
		}
		if filteredOut(role, flags) {
			continue
		}
		if seen[id] {
			return nil, fmt.Errorf("stage %q appears twice in the resolved plan", id)
		}
		seen[id] = true

		if role == plan.RolePanel {
			stages = append(stages, plan.Stage{
				ID:    id,
				Role:  plan.RolePanel,
				Phase: pipe.Phase,
			})
			continue
		}

		toolCfg, ok := c.Tools[string(tool)]
		if !ok {
			return nil, fmt.Errorf("stage %q references unknown tool %q", id, tool)
		}

		purpose := stagePurpose(role)
		stage := plan.Stage{
			ID:           id,
			Tool:         tool,
			Role:         role,
			Phase:        pipe.Phase,
			Model:        firstNonEmpty(ov.Model, prof.StageModels[id], toolCfg.PurposeModels[purpose], toolCfg.Model),
			Deadline:     toolCfg.Timeout.Duration(),
			DeadlineMode: plan.DeadlineMode(toolCfg.TimeoutMode),
		}
		if d, ok := prof.StageTimeouts[id]; ok && d > 0 {
			stage.Deadline = d.Duration()
		}
		if tool == plan.ToolCodex {
			stage.Effort = firstNonEmpty(ov.Effort, prof.StageEfforts[id], toolCfg.PurposeEfforts[purpose], toolCfg.Effort)
		}
		stages = append(stages, stage)
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline %q resolved to an empty plan (all stages filtered)", pipelineID)
	}

	return &plan.Plan{
		Pipeline: pipelineID,
		Phase:    pipe.Phase,
		Stages:   stages,
	}, nil
}

func (c *Config) pipelineIDs() []string {
	ids := make([]string, 0, len(c.Pipelines))
	for id := range c.Pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func mergeFlags(base, over map[string]bool) map[string]bool {
	merged := make(map[string]bool, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

// stagePurpose folds a role into the coarser purpose vocabulary the
// per-tool purpose defaults are keyed by.
func stagePurpose(role plan.Role) string {
	switch role {
	case plan.RoleImplement, plan.RoleFix:
		return "impl"
	case plan.RoleVerify:
		return "verify"
	case plan.RoleReview, plan.RolePanel:
		return "review"
	default:
		return "plan"
	}
}

// filteredOut reports whether the role is disabled by a flag. Only an
// explicit false disables; absent keys keep the stage.
func filteredOut(role plan.Role, flags map[string]bool) bool {
	var key string
	switch role {
	case plan.RoleBrief:
		key = "enable_brief"
	case plan.RoleVerify:
		key = "enable_verify"
	case plan.RoleReview, plan.RolePanel:
		key = "enable_review"
	default:
		return false
	}
	v, ok := flags[key]
	return ok && !v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
