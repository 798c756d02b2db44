package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

// PatchTool replaces exactly one occurrence of old_string with
// new_string: zero or multiple matches are refused, as is an identical
// old/new pair. Writes serialize on a flock then land via atomic
// rename. The confirmation text appends a unified diff via the same
// helper write.go uses for its own before/after preview.
type PatchTool struct{}

func NewPatchTool() *PatchTool { return &PatchTool{} }

type patchArgs struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

func (t *PatchTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "patch",
		Description: "Replace exactly one occurrence of old_string with new_string in a file. Fails if old_string is absent, appears more than once, or equals new_string.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "Path to the file"},
				"old_string": map[string]any{"type": "string", "description": "Exact text to find; must be unique in the file"},
				"new_string": map[string]any{"type": "string", "description": "Replacement text"},
			},
			"required":             []string{"path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *PatchTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a patchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Path == "" {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "path is required")), nil
	}
	if a.OldString == a.NewString {
		return llm.ErrorOutput(toolErr(ErrNoOp, "old_string and new_string are identical")), nil
	}

	policy := sandbox.Default()
	if tc := toolctx.From(ctx); tc != nil {
		policy = tc.Sandbox
	}
	if !policy.CanWrite(a.Path) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed write roots", a.Path)), nil
	}

	lockPath := a.Path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "create lock file: %v", err)), nil
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "lock: %v", err)), nil
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	data, err := os.ReadFile(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return llm.ErrorOutput(toolErr(ErrNotFound, "%s", a.Path)), nil
		}
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, a.OldString)
	switch count {
	case 0:
		return llm.ErrorOutput(toolErr(ErrNoMatch, "old_string not found in %s", a.Path)), nil
	case 1:
		// fall through
	default:
		return llm.ErrorOutput(toolErr(ErrAmbiguousMatch, "old_string matches %d times in %s; include more context", count, a.Path)), nil
	}

	newContent := strings.Replace(content, a.OldString, a.NewString, 1)

	dir := filepath.Dir(a.Path)
	base := filepath.Base(a.Path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "create temp file: %v", err)), nil
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(newContent); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "write temp file: %v", err)), nil
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "close temp file: %v", err)), nil
	}
	if err := os.Rename(tmpPath, a.Path); err != nil {
		os.Remove(tmpPath)
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "rename temp file: %v", err)), nil
	}

	startLine := strings.Count(content[:strings.Index(content, a.OldString)], "\n") + 1
	msg := fmt.Sprintf("Patched %s at line %d\nLines: %d -> %d", a.Path, startLine, countLines(content), countLines(newContent))
	if diffText := unifiedDiff(a.Path, content, newContent); diffText != "" {
		msg += "\n\n" + diffText
	}
	return llm.TextOutput(msg), nil
}
