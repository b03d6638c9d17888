// Package adapter invokes the external text-generation CLIs and
// normalizes their outcomes.
//
// Each tool speaks its own argument dialect; the adapter owns that
// translation plus exit-status normalization, paid-call pacing, and
// session protocol-event parsing. Everything above this boundary sees
// only Request/Result pairs.
package adapter

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// Request is one composed tool invocation.
type Request struct {
	Prompt string
	Model  string
	// Effort is the reasoning effort, codex only.
	Effort       string
	Deadline     time.Duration
	DeadlineMode plan.DeadlineMode
	// ResumeSessionID instructs the tool to continue an existing session.
	// Empty starts fresh.
	ResumeSessionID string
}

// Result is the normalized outcome of one invocation. The adapter always
// produces a Result, success or failure; only infrastructure errors (a
// cancelled rate-limiter wait) surface as Go errors.
type Result struct {
	Artifact []byte
	Stderr   string
	Status   classify.ExitStatus
	ExitCode int
	// SessionID is the session the tool reported via a protocol event,
	// empty when the tool emits none.
	SessionID string
	Elapsed   time.Duration
}

// Capabilities describes what session continuity can rely on for a tool.
type Capabilities struct {
	// ResumeSupported is true when the tool can continue a prior session.
	ResumeSupported bool
	// EmitsSessionEvent is true when the tool reports its session id as a
	// structured protocol event (high-confidence extraction).
	EmitsSessionEvent bool
	// StateDir is the tool's local session directory, used for
	// before/after diff extraction when no protocol event exists.
	StateDir string
}

// Invoker abstracts the external tool CLIs for the dispatch engine.
type Invoker interface {
	// Invoke runs one tool call synchronously. The call respects
	// req.Deadline in enforce mode and runs unkilled in wait_done mode;
	// ctx cancellation always terminates it.
	Invoke(ctx context.Context, tool plan.Tool, req Request) (*Result, error)

	// Capabilities reports the tool's session continuity surface.
	Capabilities(tool plan.Tool) (Capabilities, error)

	// Available checks that the tool's binary is installed.
	Available(tool plan.Tool) error
}
