package adapter

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

func testTools() map[string]config.ToolConfig {
	return map[string]config.ToolConfig{
		"codex": {
			Binary:      "codex",
			Effort:      "medium",
			Timeout:     config.Duration(time.Minute),
			TimeoutMode: "enforce",
			Sandbox:     true,
		},
		"gemini": {
			Binary:       "gemini",
			Timeout:      config.Duration(time.Minute),
			TimeoutMode:  "enforce",
			ApprovalMode: "auto_edit",
			StateDir:     "/tmp/gemini-state",
		},
		"copilot": {
			Binary:      "copilot",
			Timeout:     config.Duration(time.Minute),
			TimeoutMode: "wait_done",
		},
	}
}

func newTestCLI(t *testing.T) *CLI {
	t.Helper()
	c := NewCLI(testTools(), logging.NewTestLogger().Logger)
	c.lookPath = func(binary string) (string, error) { return "/usr/bin/" + binary, nil }
	return c
}

func TestInvokeSuccess(t *testing.T) {
	c := newTestCLI(t)
	c.run = func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, int, error) {
		assert.Equal(t, "codex", binary)
		assert.Contains(t, args, "exec")
		assert.Equal(t, "do the thing", stdin)
		return []byte("artifact text"), nil, 0, nil
	}

	res, err := c.Invoke(context.Background(), plan.ToolCodex, Request{Prompt: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, classify.ExitSuccess, res.Status)
	assert.Equal(t, []byte("artifact text"), res.Artifact)
	assert.Equal(t, 0, res.ExitCode)
}

func TestInvokeUnknownTool(t *testing.T) {
	c := newTestCLI(t)
	_, err := c.Invoke(context.Background(), plan.Tool("nope"), Request{})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvokeResumeArg(t *testing.T) {
	c := newTestCLI(t)
	var gotArgs []string
	c.run = func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, int, error) {
		gotArgs = args
		return nil, nil, 0, nil
	}

	_, err := c.Invoke(context.Background(), plan.ToolCodex, Request{Prompt: "p", ResumeSessionID: "S1"})
	require.NoError(t, err)
	assert.Contains(t, gotArgs, "resume")
	assert.Contains(t, gotArgs, "S1")
}

func TestInvokeEnforcedDeadline(t *testing.T) {
	c := newTestCLI(t)
	c.run = func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, int, error) {
		<-ctx.Done()
		return nil, []byte("killed"), -1, ctx.Err()
	}

	res, err := c.Invoke(context.Background(), plan.ToolCodex, Request{
		Prompt:       "p",
		Deadline:     20 * time.Millisecond,
		DeadlineMode: plan.DeadlineEnforce,
	})
	require.NoError(t, err)
	assert.Equal(t, classify.ExitTimeout, res.Status)
}

func TestInvokeWaitDoneIgnoresDeadline(t *testing.T) {
	c := newTestCLI(t)
	c.run = func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, int, error) {
		// A wait_done call gets no deadline on its context.
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return []byte("ok"), nil, 0, nil
	}

	res, err := c.Invoke(context.Background(), plan.ToolCopilot, Request{
		Prompt:       "p",
		Deadline:     time.Nanosecond,
		DeadlineMode: plan.DeadlineWaitDone,
	})
	require.NoError(t, err)
	assert.Equal(t, classify.ExitSuccess, res.Status)
}

func TestNormalizeExit(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		err      error
		code     int
		stderr   string
		expected classify.ExitStatus
	}{
		{"success", nil, 0, "", classify.ExitSuccess},
		{"missing binary by error", exec.ErrNotFound, -1, "", classify.ExitMissingBinary},
		{"missing binary by 127", errors.New("exit"), 127, "", classify.ExitMissingBinary},
		{"missing input", errors.New("exit"), 2, "", classify.ExitMissingInput},
		{"oversize input", errors.New("exit"), 1, "error: prompt is too long for model", classify.ExitInputTooLarge},
		{"general failure", errors.New("exit"), 1, "boom", classify.ExitGeneralFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeExit(ctx, tt.err, tt.code, tt.stderr))
		})
	}
}

func TestParseSessionEvent(t *testing.T) {
	out := []byte(`{"type":"session.created","session_id":"sess-42"}
{"type":"agent.message","text":"working"}
{"type":"session.created","session_id":"sess-later"}`)
	assert.Equal(t, "sess-42", parseSessionEvent(out))

	assert.Empty(t, parseSessionEvent([]byte("plain text output\nno events here")))
}

func TestCapabilities(t *testing.T) {
	c := newTestCLI(t)

	codex, err := c.Capabilities(plan.ToolCodex)
	require.NoError(t, err)
	assert.True(t, codex.ResumeSupported)
	assert.True(t, codex.EmitsSessionEvent)

	gemini, err := c.Capabilities(plan.ToolGemini)
	require.NoError(t, err)
	assert.True(t, gemini.ResumeSupported)
	assert.False(t, gemini.EmitsSessionEvent)
	assert.Equal(t, "/tmp/gemini-state", gemini.StateDir)

	copilot, err := c.Capabilities(plan.ToolCopilot)
	require.NoError(t, err)
	assert.False(t, copilot.ResumeSupported)
}

func TestAvailable(t *testing.T) {
	c := newTestCLI(t)
	assert.NoError(t, c.Available(plan.ToolCodex))

	c.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	assert.Error(t, c.Available(plan.ToolCodex))
	assert.ErrorIs(t, c.Available(plan.Tool("nope")), ErrUnknownTool)
}
