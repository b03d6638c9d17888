package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/stagehand/internal/classify"
	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
)

// ErrUnknownTool is returned for tools absent from the configuration.
var ErrUnknownTool = errors.New("unknown tool")

// stderrExcerptLimit bounds how much diagnostic output a Result carries.
const stderrExcerptLimit = 8 * 1024

// CLI invokes tools as local subprocesses.
type CLI struct {
	tools    map[string]config.ToolConfig
	limiters map[string]*rate.Limiter
	logger   *logging.Logger

	// run is swapped in tests to avoid spawning real binaries.
	run func(ctx context.Context, binary string, args []string, stdin string) (stdout, stderr []byte, exitCode int, err error)
	// lookPath is swapped in tests.
	lookPath func(binary string) (string, error)
}

// NewCLI builds the subprocess adapter. Tools with a positive rate_rps
// get a pacing limiter; others invoke unthrottled.
func NewCLI(tools map[string]config.ToolConfig, logger *logging.Logger) *CLI {
	if logger == nil {
		logger = logging.NewNop()
	}
	limiters := make(map[string]*rate.Limiter, len(tools))
	for name, tc := range tools {
		if tc.RateRPS > 0 {
			burst := tc.RateBurst
			if burst < 1 {
				burst = 1
			}
			limiters[name] = rate.NewLimiter(rate.Limit(tc.RateRPS), burst)
		}
	}
	return &CLI{
		tools:    tools,
		limiters: limiters,
		logger:   logger,
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

// Available checks that the tool's binary resolves on PATH.
func (c *CLI) Available(tool plan.Tool) error {
	tc, ok := c.tools[string(tool)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	if _, err := c.lookPath(tc.Binary); err != nil {
		return fmt.Errorf("tool %q binary %q not found: %w", tool, tc.Binary, err)
	}
	return nil
}

// Capabilities reports the tool's session continuity surface. Codex
// announces its session over protocol events; gemini keeps per-session
// state directories; copilot has no resume surface at all.
func (c *CLI) Capabilities(tool plan.Tool) (Capabilities, error) {
	tc, ok := c.tools[string(tool)]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	switch tool {
	case plan.ToolCodex:
		return Capabilities{ResumeSupported: true, EmitsSessionEvent: true, StateDir: tc.StateDir}, nil
	case plan.ToolGemini:
		return Capabilities{ResumeSupported: tc.StateDir != "", StateDir: tc.StateDir}, nil
	default:
		return Capabilities{}, nil
	}
}

// Invoke runs one tool call synchronously.
func (c *CLI) Invoke(ctx context.Context, tool plan.Tool, req Request) (*Result, error) {
	tc, ok := c.tools[string(tool)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	if lim := c.limiters[string(tool)]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for %s rate limiter: %w", tool, err)
		}
	}

	callCtx := ctx
	enforced := req.DeadlineMode == plan.DeadlineEnforce && req.Deadline > 0
	if enforced {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	args := c.argv(tool, tc, req)
	c.logger.Debug(ctx, "invoking tool",
		zap.String("tool", string(tool)),
		zap.String("binary", tc.Binary),
		zap.Strings("args", args),
		zap.Bool("resume", req.ResumeSessionID != ""),
	)

	start := time.Now()
	stdout, stderr, exitCode, runErr := c.run(callCtx, tc.Binary, args, req.Prompt)
	elapsed := time.Since(start)

	res := &Result{
		Artifact: stdout,
		Stderr:   excerpt(string(stderr)),
		ExitCode: exitCode,
		Elapsed:  elapsed,
	}
	res.Status = normalizeExit(callCtx, runErr, exitCode, res.Stderr)

	if tool == plan.ToolCodex {
		res.SessionID = parseSessionEvent(stdout)
	}

	c.logger.Debug(ctx, "tool finished",
		zap.String("tool", string(tool)),
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

// argv builds the tool-specific argument list. Prompts always travel on
// stdin so no shell-quoting surface exists.
func (c *CLI) argv(tool plan.Tool, tc config.ToolConfig, req Request) []string {
	var args []string
	switch tool {
	case plan.ToolCodex:
		args = append(args, "exec", "--json")
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		if req.Effort != "" {
			args = append(args, "--reasoning-effort", req.Effort)
		}
		if tc.Sandbox {
			args = append(args, "--sandbox", "workspace-write")
		}
		if req.ResumeSessionID != "" {
			args = append(args, "resume", req.ResumeSessionID)
		}
		args = append(args, "-")
	case plan.ToolGemini:
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		if tc.ApprovalMode != "" {
			args = append(args, "--approval-mode", tc.ApprovalMode)
		}
		if req.ResumeSessionID != "" {
			args = append(args, "--resume", req.ResumeSessionID)
		}
		args = append(args, "--prompt", "-")
	default:
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		args = append(args, "--prompt", "-")
	}
	return args
}

// runCommand is the production subprocess runner.
func runCommand(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	return stdout.Bytes(), stderr.Bytes(), code, err
}

// normalizeExit maps raw subprocess outcomes onto the boundary statuses.
func normalizeExit(ctx context.Context, runErr error, exitCode int, stderr string) classify.ExitStatus {
	if ctx.Err() == context.DeadlineExceeded {
		return classify.ExitTimeout
	}
	if runErr == nil && exitCode == 0 {
		return classify.ExitSuccess
	}
	if errors.Is(runErr, exec.ErrNotFound) || exitCode == 127 {
		return classify.ExitMissingBinary
	}
	switch exitCode {
	case 2:
		return classify.ExitMissingInput
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "context length") ||
		strings.Contains(lower, "input too large") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "maximum context") {
		return classify.ExitInputTooLarge
	}
	return classify.ExitGeneralFailure
}

// sessionEvent is the protocol line codex emits when a session starts.
type sessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// parseSessionEvent scans JSONL protocol output for the session id. The
// first event carrying one wins; later lines cannot rebind the session.
func parseSessionEvent(stdout []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev sessionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.SessionID != "" {
			return ev.SessionID
		}
	}
	return ""
}

func excerpt(s string) string {
	if len(s) <= stderrExcerptLimit {
		return s
	}
	return s[:stderrExcerptLimit]
}
