package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/samsaffron/agentrun/internal/toolctx"
)

func memoryCtx(t *testing.T) context.Context {
	t.Helper()
	tc := &toolctx.Context{WorkspaceDir: t.TempDir(), AgentName: "jarvis"}
	return toolctx.With(context.Background(), tc)
}

// Set then get returns the value; delete then get reports no memory.
func TestMemoryTool_SetGetDeleteRoundTrip(t *testing.T) {
	ctx := memoryCtx(t)
	tool := NewMemoryTool()

	out, err := tool.Execute(ctx, mustJSON(t, map[string]any{"action": "set", "key": "color", "value": "blue"}))
	if err != nil || out.IsError {
		t.Fatalf("set failed: %+v err=%v", out, err)
	}

	out, err = tool.Execute(ctx, mustJSON(t, map[string]any{"action": "get", "key": "color"}))
	if err != nil || out.IsError {
		t.Fatalf("get failed: %+v err=%v", out, err)
	}
	if !strings.Contains(out.Content, "blue") {
		t.Fatalf("get should return the stored value, got %q", out.Content)
	}

	out, err = tool.Execute(ctx, mustJSON(t, map[string]any{"action": "delete", "key": "color"}))
	if err != nil || out.IsError {
		t.Fatalf("delete failed: %+v err=%v", out, err)
	}

	out, err = tool.Execute(ctx, mustJSON(t, map[string]any{"action": "get", "key": "color"}))
	if err != nil || out.IsError {
		t.Fatalf("get after delete errored: %+v err=%v", out, err)
	}
	if !strings.Contains(out.Content, "No value for color") {
		t.Fatalf("want no-memory response, got %q", out.Content)
	}
}

func TestMemoryTool_ListMergesStoredKeys(t *testing.T) {
	ctx := memoryCtx(t)
	tool := NewMemoryTool()

	for _, kv := range [][2]string{{"b", "2"}, {"a", "1"}} {
		if out, err := tool.Execute(ctx, mustJSON(t, map[string]any{"action": "set", "key": kv[0], "value": kv[1]})); err != nil || out.IsError {
			t.Fatalf("set %s failed: %+v err=%v", kv[0], out, err)
		}
	}

	out, err := tool.Execute(ctx, mustJSON(t, map[string]any{"action": "list"}))
	if err != nil || out.IsError {
		t.Fatalf("list failed: %+v err=%v", out, err)
	}
	aIdx := strings.Index(out.Content, "a = 1")
	bIdx := strings.Index(out.Content, "b = 2")
	if aIdx < 0 || bIdx < 0 || aIdx > bIdx {
		t.Fatalf("want sorted keys in listing, got %q", out.Content)
	}
}

func TestMemoryTool_MissingKeyRejected(t *testing.T) {
	ctx := memoryCtx(t)
	out, err := NewMemoryTool().Execute(ctx, mustJSON(t, map[string]any{"action": "get"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "MISSING_FIELD") {
		t.Fatalf("want MISSING_FIELD, got %+v", out)
	}
}
