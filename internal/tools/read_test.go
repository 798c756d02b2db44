package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadTool_FullFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	out, err := NewReadTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error: %s", out.Content)
	}
	want := "1: one\n2: two\n3: three"
	if out.Content != want {
		t.Fatalf("want %q, got %q", want, out.Content)
	}
}

func TestReadTool_LineRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644)

	out, err := NewReadTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": path, "start_line": 2, "end_line": 3}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Content != "2: two\n3: three" {
		t.Fatalf("unexpected range output: %q", out.Content)
	}
}

func TestReadTool_NotFound(t *testing.T) {
	out, err := NewReadTool().Execute(context.Background(), mustJSON(t, map[string]any{"path": "/no/such/file"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "NOT_FOUND") {
		t.Fatalf("want NOT_FOUND error, got %+v", out)
	}
}

func TestReadTool_MissingPath(t *testing.T) {
	out, err := NewReadTool().Execute(context.Background(), mustJSON(t, map[string]any{}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "INVALID_PARAMS") {
		t.Fatalf("want INVALID_PARAMS error, got %+v", out)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
