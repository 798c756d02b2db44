package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/agentrun/internal/toolctx"
)

func TestListDirTool_FlatListing(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx := toolctx.With(context.Background(), &toolctx.Context{WorkspaceDir: dir})
	out, err := NewListDirTool().Execute(ctx, mustJSON(t, map[string]any{}))
	if err != nil || out.IsError {
		t.Fatalf("list failed: %+v err=%v", out, err)
	}
	if !strings.Contains(out.Content, "[d]") || !strings.Contains(out.Content, "sub") {
		t.Fatalf("directory entry missing:\n%s", out.Content)
	}
	if !strings.Contains(out.Content, "[f]") || !strings.Contains(out.Content, "f.txt") {
		t.Fatalf("file entry missing:\n%s", out.Content)
	}
}

func TestListDirTool_RecursiveDepthBound(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "d")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(deep, "toodeep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := NewListDirTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": dir, "recursive": true}))
	if err != nil || out.IsError {
		t.Fatalf("list failed: %+v err=%v", out, err)
	}
	if !strings.Contains(out.Content, filepath.Join("a", "b", "c")) {
		t.Fatalf("depth-3 entry missing:\n%s", out.Content)
	}
	if strings.Contains(out.Content, "toodeep.txt") {
		t.Fatalf("entry beyond depth 3 listed:\n%s", out.Content)
	}
}

func TestListDirTool_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := NewListDirTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": file}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "NOT_A_DIRECTORY") {
		t.Fatalf("want NOT_A_DIRECTORY, got %+v", out)
	}
}
