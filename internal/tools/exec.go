package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

const execOutputCap = 64 * 1024

// ExecTool runs a command under a POSIX shell in the workspace:
// process-group isolation, /dev/null stdin, context timeout, and
// sandbox.Policy gating on the command text.
type ExecTool struct {
	shellPath string
}

func NewExecTool() *ExecTool {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ExecTool{shellPath: shell}
}

type execArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

func (t *ExecTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "exec",
		Description: "Execute a shell command in the workspace. Returns stdout+stderr truncated to 64KiB, with the exit code appended if non-zero.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to execute"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 300, clamped by sandbox policy)"},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ExecTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a execArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Command == "" {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "command is required")), nil
	}

	tc := toolctx.From(ctx)
	policy := sandbox.Default()
	if tc != nil {
		policy = tc.Sandbox
	}

	if frag, blocked := policy.IsCommandBlocked(a.Command); blocked {
		return llm.ErrorOutput(toolErr(ErrCommandBlocked, "command matched blocked fragment %q", frag)), nil
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 300
	}
	timeout = policy.ClampTimeout(timeout)

	workDir := "."
	if tc != nil && tc.WorkspaceDir != "" {
		workDir = tc.WorkspaceDir
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, t.shellPath, "-c", a.Command)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0); err == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		return llm.ErrorOutput(toolErr(ErrTimeout, "command exceeded %ds", timeout)), nil
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return llm.ErrorOutput(toolErr(ErrSpawnError, "%v", err)), nil
		}
	}

	return llm.TextOutput(formatExecResult(stdout.String(), stderr.String(), exitCode)), nil
}

func formatExecResult(stdout, stderr string, exitCode int) string {
	truncated := false
	if len(stdout) > execOutputCap {
		stdout = stdout[:execOutputCap]
		truncated = true
	}
	if len(stderr) > execOutputCap {
		stderr = stderr[:execOutputCap]
		truncated = true
	}

	var sb strings.Builder
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	if exitCode != 0 {
		sb.WriteString(fmt.Sprintf("\nexit_code: %d", exitCode))
	}
	if truncated {
		sb.WriteString("\n\n[output truncated at 64KiB]")
	}
	return sb.String()
}
