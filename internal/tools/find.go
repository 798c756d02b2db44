package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

const findMaxResults = 500

// FindTool locates files by glob pattern, with an optional file/dir
// type filter. Hidden files and directories are skipped.
type FindTool struct{}

func NewFindTool() *FindTool { return &FindTool{} }

type findArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Type    string `json:"type,omitempty"` // "file" | "dir" | "" (either)
}

type findEntry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

func (t *FindTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "find",
		Description: "Find files by glob pattern (** for recursive matching). Returns up to 500 matches sorted by modification time, newest first.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Glob pattern, e.g. '**/*.go'"},
				"path":    map[string]any{"type": "string", "description": "Base directory (default: workspace root)"},
				"type":    map[string]any{"type": "string", "enum": []string{"file", "dir"}, "description": "Restrict to files or directories"},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *FindTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a findArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Pattern == "" {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "pattern is required")), nil
	}

	tc := toolctx.From(ctx)
	basePath := a.Path
	if basePath == "" {
		if tc != nil && tc.WorkspaceDir != "" {
			basePath = tc.WorkspaceDir
		} else {
			basePath, _ = os.Getwd()
		}
	}
	policy := sandbox.Default()
	if tc != nil {
		policy = tc.Sandbox
	}
	if !policy.CanRead(basePath) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed read roots", basePath)), nil
	}

	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
	}

	var entries []findEntry
	err = filepath.WalkDir(absBase, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != absBase {
			return filepath.SkipDir
		}
		if strings.HasPrefix(d.Name(), ".") && !d.IsDir() {
			return nil
		}
		if a.Type == "file" && d.IsDir() {
			return nil
		}
		if a.Type == "dir" && !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absBase, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(a.Pattern, rel)
		if err != nil || !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, findEntry{Path: path, IsDir: d.IsDir(), Size: info.Size(), ModTime: info.ModTime()})
		if len(entries) >= findMaxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return llm.ErrorOutput(toolErr(ErrTimeout, "find timed out after 1 minute")), nil
	}
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })
	if len(entries) == 0 {
		return llm.TextOutput("No files matched the pattern."), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		kind := "f"
		if e.IsDir {
			kind = "d"
		}
		fmt.Fprintf(&sb, "[%s] %8d  %s  %s\n", kind, e.Size, e.ModTime.Format("2006-01-02 15:04"), e.Path)
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if len(entries) >= findMaxResults {
		out += fmt.Sprintf("\n[results truncated at %d matches]", findMaxResults)
	}
	return llm.TextOutput(out), nil
}
