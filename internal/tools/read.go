package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

const readFileCap = 128 * 1024

// ReadTool reads file contents with a 1-indexed line-number gutter.
// Binary files are refused (content-type sniff plus null-byte scan) and
// large files must be paged through with a line range.
type ReadTool struct{}

func NewReadTool() *ReadTool { return &ReadTool{} }

type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (t *ReadTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "read",
		Description: "Read file contents with a 1-indexed line-number gutter. Refuses files over 128KiB unless a line range is given.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "Path to the file"},
				"start_line": map[string]any{"type": "integer", "description": "1-indexed start line (default 1)"},
				"end_line":   map[string]any{"type": "integer", "description": "1-indexed end line (default EOF)"},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	}
}

func (t *ReadTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a readArgs
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
	if !policy.CanRead(a.Path) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed read roots", a.Path)), nil
	}

	info, statErr := os.Stat(a.Path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return llm.ErrorOutput(toolErr(ErrNotFound, "%s", a.Path)), nil
		}
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", statErr)), nil
	}
	ranged := a.StartLine > 0 || a.EndLine > 0
	if !ranged && info.Size() > readFileCap {
		return llm.ErrorOutput(toolErr(ErrTooLarge, "%s is %d bytes; use start_line/end_line to page through it", a.Path, info.Size())), nil
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
	}
	if isBinary(data) {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%s appears to be a binary file", a.Path)), nil
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start := 0
	if a.StartLine > 0 {
		start = a.StartLine - 1
	}
	if start >= total {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "start_line %d exceeds file length %d", a.StartLine, total)), nil
	}
	end := total
	if a.EndLine > 0 && a.EndLine < total {
		end = a.EndLine
	}
	if start >= end {
		return llm.TextOutput("No content in requested range."), nil
	}

	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if len(out) > readFileCap {
		out = out[:readFileCap] + fmt.Sprintf("\n\n[output truncated. total lines: %d]", total)
	}
	return llm.TextOutput(out), nil
}

func isBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	ct := http.DetectContentType(sample)
	if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml") {
		return false
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
