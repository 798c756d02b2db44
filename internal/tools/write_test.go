package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTool_CreatesNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.txt")

	out, err := NewWriteTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": path, "content": "hello\n"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error: %s", out.Content)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content: %q", data)
	}
	if !strings.HasPrefix(out.Content, "Created") {
		t.Fatalf("want Created summary, got %q", out.Content)
	}
}

func TestWriteTool_OverwriteEmitsDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("old\n"), 0o644)

	out, err := NewWriteTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": path, "content": "new\n"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.Content, "Updated") {
		t.Fatalf("want Updated summary, got %q", out.Content)
	}
	if !strings.Contains(out.Content, "-old") || !strings.Contains(out.Content, "+new") {
		t.Fatalf("want a unified diff in output, got %q", out.Content)
	}
}

func TestWriteTool_Append(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("one\n"), 0o644)

	_, err := NewWriteTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": path, "content": "two\n", "append": true}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "one\ntwo\n" {
		t.Fatalf("unexpected appended content: %q", data)
	}
}
