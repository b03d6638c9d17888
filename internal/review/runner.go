package review

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fyrsmithlabs/stagehand/internal/adapter"
	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/state"
)

// LensRunner runs lenses as paid tool invocations through the adapter.
// Each lens writes its raw output to its own artifact under the review
// directory before returning, so workers never share mutable state.
type LensRunner struct {
	invoker adapter.Invoker
	store   *state.Store
	tools   map[string]config.ToolConfig
	// Diff is the change description the lenses analyze.
	Diff string
}

// NewLensRunner builds the adapter-backed lens runner.
func NewLensRunner(invoker adapter.Invoker, store *state.Store, tools map[string]config.ToolConfig) *LensRunner {
	return &LensRunner{invoker: invoker, store: store, tools: tools}
}

// RunLens performs one lens analysis. Lens calls are paid: each reserves
// against the task budget exactly like a stage attempt.
func (r *LensRunner) RunLens(ctx context.Context, lens config.LensConfig) (string, error) {
	tc, ok := r.tools[lens.Tool]
	if !ok {
		return "", fmt.Errorf("lens %q references unknown tool %q", lens.Name, lens.Tool)
	}

	if _, err := r.store.ReservePaidCall(); err != nil {
		return "", err
	}

	res, err := r.invoker.Invoke(ctx, plan.Tool(lens.Tool), adapter.Request{
		Prompt:       r.lensPrompt(lens),
		Model:        firstNonEmpty(lens.Model, tc.Model),
		Effort:       tc.Effort,
		Deadline:     tc.Timeout.Duration(),
		DeadlineMode: plan.DeadlineMode(tc.TimeoutMode),
		// Lenses never resume a phase baseline: two concurrent resumers
		// of one session are disallowed, so every lens call is fresh.
	})
	if err != nil {
		return "", err
	}
	if res.Status != classify.ExitSuccess {
		return "", fmt.Errorf("lens %q failed (%s): %s", lens.Name, res.Status, firstLineOf(res.Stderr))
	}

	out := string(res.Artifact)
	if err := r.store.WriteReviewArtifact(lens.Name+".md", res.Artifact); err != nil {
		return out, err
	}
	return out, nil
}

func (r *LensRunner) lensPrompt(lens config.LensConfig) string {
	var b strings.Builder
	b.WriteString("Review the following changes through the ")
	b.WriteString(lens.Name)
	b.WriteString(" lens. ")
	b.WriteString(lens.Focus)
	b.WriteString("\nReport one bullet per issue, each with file, line, and a severity tag like [critical], [major], [medium], or [low]. Add 'fix: ...' with a proposed improvement where you have one.\n\n")
	b.WriteString(r.Diff)
	return b.String()
}

// ToolFixer applies queued fixes by invoking the configured fix tool,
// one item at a time.
type ToolFixer struct {
	invoker adapter.Invoker
	store   *state.Store
	tool    string
	tc      config.ToolConfig
}

// NewToolFixer builds a fixer for the named tool. Returns nil when tool
// is empty, which makes the queue skip everything.
func NewToolFixer(invoker adapter.Invoker, store *state.Store, tool string, tools map[string]config.ToolConfig) *ToolFixer {
	if tool == "" {
		return nil
	}
	tc, ok := tools[tool]
	if !ok {
		return nil
	}
	return &ToolFixer{invoker: invoker, store: store, tool: tool, tc: tc}
}

// ApplyFix sends one fix request. Fix calls are paid invocations.
func (f *ToolFixer) ApplyFix(ctx context.Context, item FixQueueItem) error {
	if _, err := f.store.ReservePaidCall(); err != nil {
		return err
	}

	prompt := fmt.Sprintf("Apply this fix in %s and show the change as a unified diff:\n\n%s\n",
		item.TargetFile, item.Action)
	res, err := f.invoker.Invoke(ctx, plan.Tool(f.tool), adapter.Request{
		Prompt:       prompt,
		Model:        f.tc.Model,
		Effort:       f.tc.Effort,
		Deadline:     f.tc.Timeout.Duration(),
		DeadlineMode: plan.DeadlineMode(f.tc.TimeoutMode),
	})
	if err != nil {
		return err
	}
	if res.Status != classify.ExitSuccess {
		return fmt.Errorf("fix tool failed (%s): %s", res.Status, firstLineOf(res.Stderr))
	}
	return nil
}

// RegressionVerifier runs the configured local regression command. Not a
// paid call; it runs in the task's working directory.
func RegressionVerifier(command string, timeout time.Duration) func(ctx context.Context) error {
	if command == "" {
		return nil
	}
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("regression command failed: %w: %s", err, firstLineOf(string(out)))
		}
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstLineOf(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
