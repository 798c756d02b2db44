package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPatchTool_ReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world\n"), 0o644)

	out, err := NewPatchTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "world", "new_string": "there",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error: %s", out.Content)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello there\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

// Applying a patch and then its inverse restores the exact original
// bytes when old_string appears exactly once.
func TestPatchTool_InverseRestoresOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	original := "alpha\nbeta\ngamma\n"
	os.WriteFile(path, []byte(original), 0o644)

	tool := NewPatchTool()
	out, err := tool.Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "beta", "new_string": "delta",
	}))
	if err != nil || out.IsError {
		t.Fatalf("forward patch failed: %+v err=%v", out, err)
	}
	out, err = tool.Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "delta", "new_string": "beta",
	}))
	if err != nil || out.IsError {
		t.Fatalf("inverse patch failed: %+v err=%v", out, err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Fatalf("inverse did not restore original bytes: %q", data)
	}
}

func TestPatchTool_AmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("a a a\n"), 0o644)

	out, err := NewPatchTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "a", "new_string": "b",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "AMBIGUOUS_MATCH") {
		t.Fatalf("want AMBIGUOUS_MATCH, got %+v", out)
	}
}

func TestPatchTool_NoMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello\n"), 0o644)

	out, err := NewPatchTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "goodbye", "new_string": "hi",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "NO_MATCH") {
		t.Fatalf("want NO_MATCH, got %+v", out)
	}
}

func TestPatchTool_IdenticalStringsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello\n"), 0o644)

	out, err := NewPatchTool().Execute(context.Background(), mustJSON(t, map[string]any{
		"path": path, "old_string": "hello", "new_string": "hello",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "NO_OP") {
		t.Fatalf("want NO_OP, got %+v", out)
	}
}
