package session

import (
	"context"
	"testing"

	"github.com/samsaffron/agentrun/internal/llm"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Create, append, resume: messages come back in exact insertion order.
func TestSessionStore_ResumeOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.CreateSession(ctx, "s1", "jarvis", "gpt-5"); err != nil {
		t.Fatalf("create: %v", err)
	}

	user, err := FromMessage(llm.UserText("hi"))
	if err != nil {
		t.Fatalf("from message: %v", err)
	}
	assistant, err := FromMessage(llm.AssistantText("hello", ""))
	if err != nil {
		t.Fatalf("from message: %v", err)
	}
	if err := store.AppendMessage(ctx, "s1", user); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := store.AppendMessage(ctx, "s1", assistant); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := store.LoadMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
	if msgs[0].ID >= msgs[1].ID {
		t.Fatalf("want strictly increasing ids, got %d then %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestSessionStore_TokensAndLatestKey(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.CreateSession(ctx, "s1", "jarvis", "gpt-5"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AddTokens(ctx, "s1", 10); err != nil {
		t.Fatalf("add tokens: %v", err)
	}
	if err := store.AddTokens(ctx, "s1", 5); err != nil {
		t.Fatalf("add tokens: %v", err)
	}

	infos, err := store.ListSessions(ctx, "jarvis", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].TotalTokens != 15 {
		t.Fatalf("want total_tokens=15, got %+v", infos)
	}

	key, ok, err := store.LatestSessionKey(ctx, "jarvis")
	if err != nil || !ok || key != "s1" {
		t.Fatalf("latest key: key=%q ok=%v err=%v", key, ok, err)
	}
}

func TestSessionStore_DeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.CreateSession(ctx, "s1", "jarvis", "gpt-5"); err != nil {
		t.Fatalf("create: %v", err)
	}
	msg, _ := FromMessage(llm.UserText("hi"))
	if err := store.AppendMessage(ctx, "s1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := store.DeleteSession(ctx, "s1")
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	msgs, err := store.LoadMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("want cascade-deleted messages, got %d", len(msgs))
	}

	if _, err := store.PruneOldSessions(ctx, 30); err != nil {
		t.Fatalf("prune: %v", err)
	}
}

// Tool calls survive a StoredMessage round-trip.
func TestStoredMessage_ToolCallRoundTrip(t *testing.T) {
	calls := []llm.ToolCall{{ID: "c1", Type: "function", Name: "read", Arguments: `{"path":"/tmp/x"}`}}
	original := llm.AssistantWithToolCalls(calls, "thinking")

	sm, err := FromMessage(original)
	if err != nil {
		t.Fatalf("from message: %v", err)
	}
	roundtripped, err := sm.ToMessage()
	if err != nil {
		t.Fatalf("to message: %v", err)
	}
	if len(roundtripped.ToolCalls) != 1 || roundtripped.ToolCalls[0].Name != "read" {
		t.Fatalf("tool calls did not round-trip: %+v", roundtripped.ToolCalls)
	}
	if roundtripped.Reasoning != "thinking" {
		t.Fatalf("reasoning did not round-trip: %q", roundtripped.Reasoning)
	}
}
