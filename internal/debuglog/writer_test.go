package debuglog

import (
	"path/filepath"
	"testing"
	"time"
)

// Round-trips a Logger-written session through the parser/formatter
// functions, exercising both halves of this package together the way
// internal/engine actually uses them in production.
func TestLogger_WriteThenParse(t *testing.T) {
	dir := t.TempDir()
	sessionID := "s1"

	l, err := NewLogger(dir, sessionID)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.LogRequest("openai", "gpt-5", RequestData{
		Round:    1,
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools:    []Tool{{Name: "read", Description: "reads a file"}},
	})
	l.LogEvent("tool_result", map[string]any{"name": "read", "call_id": "c1", "is_error": false})
	l.LogEvent("usage", map[string]any{"round": 1, "prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	summaries, err := ListSessions(dir)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("want 1 session, got %d", len(summaries))
	}
	if summaries[0].Provider != "openai" || summaries[0].Model != "gpt-5" {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
	if summaries[0].Prompt != 10 || summaries[0].Completion != 5 {
		t.Fatalf("unexpected token counts: %+v", summaries[0])
	}

	sess, err := ParseSession(filepath.Join(dir, sessionID+".jsonl"))
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if sess.Turns != 1 {
		t.Fatalf("want 1 turn, got %d", sess.Turns)
	}
	if len(sess.Entries) != 3 {
		t.Fatalf("want 3 entries (1 request + 2 events), got %d", len(sess.Entries))
	}
}

func TestCleanupOldLogs_RemovesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, "keep-me")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.LogEvent("noop", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// maxAge large enough that the file just written is never "old".
	if err := CleanupOldLogs(dir, 24*time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	summaries, err := ListSessions(dir)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("want the fresh session to survive cleanup, got %d sessions", len(summaries))
	}
}
