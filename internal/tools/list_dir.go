package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

const listDirMaxEntries = 500
const listDirMaxDepth = 3

// ListDirTool lists directory entries with type and size; recursive
// listings are bounded in both depth and entry count.
type ListDirTool struct{}

func NewListDirTool() *ListDirTool { return &ListDirTool{} }

type listDirArgs struct {
	Path      string `json:"path,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (t *ListDirTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "list_dir",
		Description: "List directory entries with type and size. Recursive mode is bounded to depth 3 and 500 entries.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string", "description": "Directory to list (default: workspace root)"},
				"recursive": map[string]any{"type": "boolean", "description": "Recurse into subdirectories"},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a listDirArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
		}
	}

	tc := toolctx.From(ctx)
	dir := a.Path
	if dir == "" {
		if tc != nil && tc.WorkspaceDir != "" {
			dir = tc.WorkspaceDir
		} else {
			dir, _ = os.Getwd()
		}
	}
	policy := sandbox.Default()
	if tc != nil {
		policy = tc.Sandbox
	}
	if !policy.CanRead(dir) {
		return llm.ErrorOutput(toolErr(ErrPathDenied, "%s is outside the allowed read roots", dir)), nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrNotFound, "%s", dir)), nil
	}
	if !info.IsDir() {
		return llm.ErrorOutput(toolErr(ErrNotADirectory, "%s is not a directory", dir)), nil
	}

	type row struct {
		path  string
		isDir bool
		size  int64
	}
	var rows []row

	if !a.Recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil {
				continue
			}
			rows = append(rows, row{path: filepath.Join(dir, e.Name()), isDir: e.IsDir(), size: fi.Size()})
		}
	} else {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == dir {
				return nil
			}
			rel, _ := filepath.Rel(dir, path)
			depth := strings.Count(rel, string(filepath.Separator)) + 1
			if depth > listDirMaxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			rows = append(rows, row{path: path, isDir: d.IsDir(), size: fi.Size()})
			if len(rows) >= listDirMaxEntries {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })

	truncated := len(rows) > listDirMaxEntries
	if truncated {
		rows = rows[:listDirMaxEntries]
	}

	var sb strings.Builder
	for _, r := range rows {
		kind := "f"
		if r.isDir {
			kind = "d"
		}
		fmt.Fprintf(&sb, "[%s] %8d  %s\n", kind, r.size, r.path)
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if out == "" {
		out = "(empty)"
	}
	if truncated {
		out += fmt.Sprintf("\n[results truncated at %d entries]", listDirMaxEntries)
	}
	return llm.TextOutput(out), nil
}
