package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

// WriteTool creates or overwrites a file via an atomic
// temp-file-then-rename, reporting a unified diff of the change when
// the target already existed.
type WriteTool struct{}

func NewWriteTool() *WriteTool { return &WriteTool{} }

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

func (t *WriteTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "write",
		Description: "Create or overwrite (or append to) a file. Creates parent directories inside the allowed write roots.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path to the file"},
				"content": map[string]any{"type": "string", "description": "Content to write"},
				"append":  map[string]any{"type": "boolean", "description": "Append instead of overwrite"},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a writeArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Path == "" {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "path is required")), nil
	}

	policy := sandbox.Default()
	if tc := toolctx.From(ctx); tc != nil {
		policy = tc.Sandbox
	}
	if !policy.CanWrite(a.Path) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed write roots", a.Path)), nil
	}

	absPath, err := filepath.Abs(a.Path)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "cannot resolve path: %v", err)), nil
	}

	existing := ""
	isNew := true
	if data, err := os.ReadFile(absPath); err == nil {
		existing = string(data)
		isNew = false
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "create directory: %v", err)), nil
	}

	finalContent := a.Content
	if a.Append && !isNew {
		finalContent = existing + a.Content
	}

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(finalContent), 0o644); err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "write temp file: %v", err)), nil
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "rename temp file: %v", err)), nil
	}

	var sb strings.Builder
	if isNew {
		fmt.Fprintf(&sb, "Created %s\nSize: %d bytes, %d lines", absPath, len(finalContent), countLines(finalContent))
	} else {
		fmt.Fprintf(&sb, "Updated %s\nLines: %d -> %d\nSize: %d -> %d bytes", absPath, countLines(existing), countLines(finalContent), len(existing), len(finalContent))
		if diffText := unifiedDiff(a.Path, existing, finalContent); diffText != "" {
			sb.WriteString("\n\n" + diffText)
		}
	}
	return llm.TextOutput(sb.String()), nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// unifiedDiff renders a unified diff via gotextdiff, capped to keep the
// tool message small; an oversized or unchanged pair yields "".
func unifiedDiff(path, before, after string) string {
	const maxDiffInput = 256 * 1024
	if before == after || len(before) > maxDiffInput || len(after) > maxDiffInput {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(path), before, after)
	out := fmt.Sprint(gotextdiff.ToUnified(path, path, before, edits))
	const maxDiffOutput = 8 * 1024
	if len(out) > maxDiffOutput {
		out = out[:maxDiffOutput] + "\n[diff truncated]"
	}
	return out
}
