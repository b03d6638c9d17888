// Package config provides configuration loading and stage-plan resolution
// for stagehand.
//
// Configuration is loaded from a YAML file with environment-variable
// overrides, then resolved into an immutable stage plan per run. All
// precedence logic (profile overrides, flag filters, per-stage models and
// efforts) lives here; the orchestrator consumes only resolved plans.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// Valid option sets. Efforts apply to codex only; approval modes to gemini.
var (
	EffortValues       = []string{"low", "medium", "high", "xhigh"}
	TimeoutModeValues  = []string{"enforce", "wait_done"}
	ApprovalModeValues = []string{"default", "auto_edit", "yolo"}
	SessionModeValues  = []string{"forced_within_phase", "fresh"}
	PurposeValues      = []string{"impl", "plan", "verify", "review"}
)

// Config holds the complete stagehand configuration.
type Config struct {
	// TaskRoot is the directory task workspaces are created under,
	// relative to the project root.
	TaskRoot  string                    `koanf:"task_root"`
	Budget    BudgetConfig              `koanf:"budget"`
	Session   SessionConfig             `koanf:"session"`
	Stage     StageConfig               `koanf:"stage"`
	Summary   SummaryConfig             `koanf:"summary"`
	Review    ReviewConfig              `koanf:"review"`
	Server    ServerConfig              `koanf:"server"`
	Tools     map[string]ToolConfig     `koanf:"tools"`
	Pipelines map[string]PipelineConfig `koanf:"pipelines"`
	Profiles  map[string]ProfileConfig  `koanf:"profiles"`
}

// BudgetConfig bounds paid tool invocations for a task.
type BudgetConfig struct {
	// PaidCalls is the task-lifetime cap on adapter invocations.
	PaidCalls int `koanf:"paid_calls"`
	// RetryBudget caps automatic retries per error signature.
	RetryBudget int `koanf:"retry_budget"`
}

// SessionConfig controls multi-turn continuity.
type SessionConfig struct {
	// Mode is "forced_within_phase" (resume the phase baseline once one
	// exists) or "fresh" (every call starts a new session).
	Mode string `koanf:"mode"`
}

// StageConfig holds stage-execution knobs.
type StageConfig struct {
	// HeartbeatInterval is how often a progress heartbeat is logged while
	// a tool call blocks.
	HeartbeatInterval Duration `koanf:"heartbeat_interval"`
}

// SummaryConfig bounds the regenerated run summary document.
type SummaryConfig struct {
	MaxBytes int `koanf:"max_bytes"`
}

// ReviewConfig controls the parallel review coordinator.
type ReviewConfig struct {
	Lenses []LensConfig `koanf:"lenses"`
	// BarrierTimeout is the shared join deadline for the whole lens
	// fan-out, not per worker.
	BarrierTimeout    Duration `koanf:"barrier_timeout"`
	MaxSecurityRounds int      `koanf:"max_security_rounds"`
	// FixTool names the tool used to apply queued fixes. Empty disables
	// fix application; queue items are marked skipped.
	FixTool string `koanf:"fix_tool"`
	// RegressionCmd is a local shell command run between fix application
	// and the security re-check. Not a paid call. Empty skips it.
	RegressionCmd string `koanf:"regression_cmd"`
}

// LensConfig describes one analysis viewpoint in the review fan-out.
type LensConfig struct {
	Name  string `koanf:"name"`
	Tool  string `koanf:"tool"`
	Model string `koanf:"model"`
	// Focus is the one-line analysis brief appended to the lens prompt.
	Focus string `koanf:"focus"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ToolConfig holds per-tool invocation defaults.
type ToolConfig struct {
	Binary string `koanf:"binary"`
	Model  string `koanf:"model"`
	// Effort is the reasoning effort (codex only): low|medium|high|xhigh.
	Effort string `koanf:"effort"`
	// PurposeModels maps a stage purpose (impl|plan|verify|review) to a
	// model, beating Model for stages serving that purpose but losing to
	// profile and CLI settings.
	PurposeModels map[string]string `koanf:"purpose_models"`
	// PurposeEfforts does the same for reasoning effort (codex only).
	PurposeEfforts map[string]string `koanf:"purpose_efforts"`
	Timeout        Duration          `koanf:"timeout"`
	// TimeoutMode is enforce (kill at deadline) or wait_done (advisory).
	TimeoutMode string `koanf:"timeout_mode"`
	// ApprovalMode applies to gemini: default|auto_edit|yolo.
	ApprovalMode string `koanf:"approval_mode"`
	Sandbox      bool   `koanf:"sandbox"`
	// StateDir is the tool's local session directory, used for
	// directory-diff session extraction when the tool emits no protocol
	// events.
	StateDir string `koanf:"state_dir"`
	// RateRPS and RateBurst pace paid invocations of this tool.
	RateRPS   float64 `koanf:"rate_rps"`
	RateBurst int     `koanf:"rate_burst"`
}

// PipelineConfig names a phase and its default stage sequence.
type PipelineConfig struct {
	Phase  string   `koanf:"phase"`
	Stages []string `koanf:"stages"`
}

// ProfileConfig overrides pipeline resolution.
type ProfileConfig struct {
	// Stages replaces the pipeline's stage list entirely when set.
	Stages []string `koanf:"stages"`
	// Flags filter optional stages: enable_brief, enable_verify,
	// enable_review.
	Flags         map[string]bool     `koanf:"flags"`
	StageModels   map[string]string   `koanf:"stage_models"`
	StageEfforts  map[string]string   `koanf:"stage_efforts"`
	StageTimeouts map[string]Duration `koanf:"stage_timeouts"`
}

// NewDefaultConfig returns the built-in configuration: three tools, the
// impl/plan/review pipelines, and a correctness/security/maintainability
// lens set.
func NewDefaultConfig() *Config {
	return &Config{
		TaskRoot: ".stagehand",
		Budget: BudgetConfig{
			PaidCalls:   25,
			RetryBudget: 2,
		},
		Session: SessionConfig{
			Mode: "forced_within_phase",
		},
		Stage: StageConfig{
			HeartbeatInterval: Duration(30 * time.Second),
		},
		Summary: SummaryConfig{
			MaxBytes: 16 * 1024,
		},
		Review: ReviewConfig{
			Lenses: []LensConfig{
				{Name: "correctness", Tool: "codex", Focus: "logic errors, unhandled edge cases, broken invariants"},
				{Name: "security", Tool: "codex", Focus: "injection, secrets handling, unsafe input, privilege boundaries"},
				{Name: "maintainability", Tool: "gemini", Focus: "duplication, naming, dead code, structural drift"},
			},
			BarrierTimeout:    Duration(15 * time.Minute),
			MaxSecurityRounds: 3,
			FixTool:           "codex",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8750,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Tools: map[string]ToolConfig{
			"codex": {
				Binary:      "codex",
				Effort:      "medium",
				Timeout:     Duration(10 * time.Minute),
				TimeoutMode: "enforce",
				Sandbox:     true,
				RateRPS:     0.5,
				RateBurst:   1,
			},
			"gemini": {
				Binary:       "gemini",
				Timeout:      Duration(10 * time.Minute),
				TimeoutMode:  "enforce",
				ApprovalMode: "auto_edit",
				StateDir:     "~/.gemini/tmp",
				RateRPS:      0.5,
				RateBurst:    1,
			},
			"copilot": {
				Binary:      "copilot",
				Timeout:     Duration(10 * time.Minute),
				TimeoutMode: "wait_done",
				RateRPS:     0.5,
				RateBurst:   1,
			},
		},
		Pipelines: map[string]PipelineConfig{
			"impl": {
				Phase:  "impl",
				Stages: []string{"codex_brief", "codex_implement", "codex_verify", "panel"},
			},
			"plan": {
				Phase:  "plan",
				Stages: []string{"codex_plan"},
			},
			"review": {
				Phase:  "review",
				Stages: []string{"panel"},
			},
		},
		Profiles: map[string]ProfileConfig{
			"default": {
				Flags: map[string]bool{
					"enable_brief":  false,
					"enable_verify": true,
					"enable_review": true,
				},
			},
			"thorough": {
				Flags: map[string]bool{
					"enable_brief":  true,
					"enable_verify": true,
					"enable_review": true,
				},
				StageEfforts: map[string]string{
					"codex_implement": "high",
					"codex_verify":    "high",
				},
			},
			"quick": {
				Flags: map[string]bool{
					"enable_brief":  false,
					"enable_verify": false,
					"enable_review": false,
				},
				StageEfforts: map[string]string{
					"codex_implement": "low",
				},
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TaskRoot == "" {
		return fmt.Errorf("task_root cannot be empty")
	}
	if c.Budget.PaidCalls <= 0 {
		return fmt.Errorf("budget.paid_calls must be > 0, got %d", c.Budget.PaidCalls)
	}
	if c.Budget.RetryBudget < 0 {
		return fmt.Errorf("budget.retry_budget must be >= 0, got %d", c.Budget.RetryBudget)
	}
	if !contains(SessionModeValues, c.Session.Mode) {
		return fmt.Errorf("session.mode must be one of %v, got %q", SessionModeValues, c.Session.Mode)
	}
	if c.Stage.HeartbeatInterval.Duration() <= 0 {
		return fmt.Errorf("stage.heartbeat_interval must be > 0")
	}
	if c.Summary.MaxBytes <= 0 {
		return fmt.Errorf("summary.max_bytes must be > 0, got %d", c.Summary.MaxBytes)
	}
	if err := c.validateReview(); err != nil {
		return err
	}
	for name, tool := range c.Tools {
		if err := validateTool(name, tool); err != nil {
			return err
		}
	}
	for id, p := range c.Pipelines {
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipeline %q has no stages", id)
		}
		for _, sid := range p.Stages {
			if err := c.validateStageID(sid); err != nil {
				return fmt.Errorf("pipeline %q: %w", id, err)
			}
		}
	}
	for name, prof := range c.Profiles {
		for _, sid := range prof.Stages {
			if err := c.validateStageID(sid); err != nil {
				return fmt.Errorf("profile %q: %w", name, err)
			}
		}
		for sid, effort := range prof.StageEfforts {
			if !contains(EffortValues, effort) {
				return fmt.Errorf("profile %q: stage %q effort must be one of %v, got %q", name, sid, EffortValues, effort)
			}
		}
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.BarrierTimeout.Duration() <= 0 {
		return fmt.Errorf("review.barrier_timeout must be > 0")
	}
	if c.Review.MaxSecurityRounds < 1 {
		return fmt.Errorf("review.max_security_rounds must be >= 1, got %d", c.Review.MaxSecurityRounds)
	}
	seen := make(map[string]bool, len(c.Review.Lenses))
	for _, lens := range c.Review.Lenses {
		if lens.Name == "" {
			return fmt.Errorf("review lens with empty name")
		}
		if seen[lens.Name] {
			return fmt.Errorf("duplicate review lens %q", lens.Name)
		}
		seen[lens.Name] = true
		if _, ok := c.Tools[lens.Tool]; !ok {
			return fmt.Errorf("review lens %q references unknown tool %q", lens.Name, lens.Tool)
		}
	}
	if c.Review.FixTool != "" {
		if _, ok := c.Tools[c.Review.FixTool]; !ok {
			return fmt.Errorf("review.fix_tool references unknown tool %q", c.Review.FixTool)
		}
	}
	return nil
}

func (c *Config) validateStageID(id string) error {
	tool, _, err := plan.ParseStageID(id)
	if err != nil {
		return err
	}
	if tool == "" {
		// Panel stage carries no tool binding.
		return nil
	}
	if _, ok := c.Tools[string(tool)]; !ok {
		return fmt.Errorf("stage %q references unknown tool %q", id, tool)
	}
	return nil
}

func validateTool(name string, tool ToolConfig) error {
	if tool.Binary == "" {
		return fmt.Errorf("tool %q: binary cannot be empty", name)
	}
	if tool.Timeout.Duration() <= 0 {
		return fmt.Errorf("tool %q: timeout must be > 0", name)
	}
	if !contains(TimeoutModeValues, tool.TimeoutMode) {
		return fmt.Errorf("tool %q: timeout_mode must be one of %v, got %q", name, TimeoutModeValues, tool.TimeoutMode)
	}
	if tool.Effort != "" && !contains(EffortValues, tool.Effort) {
		return fmt.Errorf("tool %q: effort must be one of %v, got %q", name, EffortValues, tool.Effort)
	}
	for purpose := range tool.PurposeModels {
		if !contains(PurposeValues, purpose) {
			return fmt.Errorf("tool %q: purpose_models key must be one of %v, got %q", name, PurposeValues, purpose)
		}
	}
	for purpose, effort := range tool.PurposeEfforts {
		if !contains(PurposeValues, purpose) {
			return fmt.Errorf("tool %q: purpose_efforts key must be one of %v, got %q", name, PurposeValues, purpose)
		}
		if !contains(EffortValues, effort) {
			return fmt.Errorf("tool %q: purpose_efforts.%s must be one of %v, got %q", name, purpose, EffortValues, effort)
		}
	}
	if tool.ApprovalMode != "" && !contains(ApprovalModeValues, tool.ApprovalMode) {
		return fmt.Errorf("tool %q: approval_mode must be one of %v, got %q", name, ApprovalModeValues, tool.ApprovalMode)
	}
	if tool.RateRPS < 0 {
		return fmt.Errorf("tool %q: rate_rps must be >= 0", name)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
