package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func oaStream(chunks ...string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString("data: ")
		sb.WriteString(c)
		sb.WriteString("\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return sb.String()
}

func drainSink(ch chan StreamEvent) []StreamEvent {
	close(ch)
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestAccumulateOAStream_Text(t *testing.T) {
	input := oaStream(
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		`{"choices":[{"delta":{}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
	)
	sink := make(chan StreamEvent, 32)
	completion, usage, err := accumulateOAStream(strings.NewReader(input), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Kind != CompletionText || completion.Content != "Hello" {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if completion.Reasoning != "thinking" {
		t.Fatalf("unexpected reasoning: %q", completion.Reasoning)
	}
	if usage != (UsageStats{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}) {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	// Exactly one Done, and nothing after it.
	events := drainSink(sink)
	doneCount := 0
	for i, ev := range events {
		if ev.Type == EventDone {
			doneCount++
			if i != len(events)-1 {
				t.Fatalf("event after Done at index %d", i)
			}
		}
	}
	if doneCount != 1 {
		t.Fatalf("want exactly one Done, got %d", doneCount)
	}
}

func TestAccumulateOAStream_ToolCallFragments(t *testing.T) {
	input := oaStream(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pa"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"/tmp/x\"}"}}]}}]}`,
	)
	sink := make(chan StreamEvent, 32)
	completion, _, err := accumulateOAStream(strings.NewReader(input), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Kind != CompletionToolCalls || len(completion.ToolCalls) != 1 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	call := completion.ToolCalls[0]
	if call.ID != "c1" || call.Name != "read" || call.Arguments != `{"path":"/tmp/x"}` {
		t.Fatalf("fragment reassembly failed: %+v", call)
	}

	events := drainSink(sink)
	sawStart := false
	for _, ev := range events {
		if ev.Type == EventToolCallStart && ev.Name == "read" {
			sawStart = true
		}
	}
	if !sawStart {
		t.Fatal("no ToolCallStart emitted for the streamed tool call")
	}
}

func TestAccumulateOAStream_UsageFallbackEstimate(t *testing.T) {
	input := oaStream(`{"choices":[{"delta":{"content":"12345678"}}]}`)
	history := []Message{UserText("a user prompt of some length")}
	_, usage, err := accumulateOAStream(strings.NewReader(input), history, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.PromptTokens < 1 || usage.CompletionTokens < 1 {
		t.Fatalf("estimates must be >= 1 each: %+v", usage)
	}
	if usage.CompletionTokens != 2 { // ceil(8/4)
		t.Fatalf("want 2 estimated completion tokens, got %d", usage.CompletionTokens)
	}
	if usage.TotalTokens != usage.PromptTokens+usage.CompletionTokens {
		t.Fatalf("total not additive: %+v", usage)
	}
}

func TestAccumulateOAStream_SkipsMalformedFrames(t *testing.T) {
	input := oaStream(
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		`{not json`,
		`{"choices":[{"delta":{"content":"!"}}]}`,
	)
	completion, _, err := accumulateOAStream(strings.NewReader(input), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Content != "ok!" {
		t.Fatalf("malformed frame broke accumulation: %q", completion.Content)
	}
}

// Serializing a Message through the provider wire shape round-trips
// tool calls, and absent optional fields do not appear in the JSON.
func TestOAMessageSerializationRoundTrip(t *testing.T) {
	msgs := []Message{
		UserText("hi"),
		AssistantWithToolCalls([]ToolCall{{ID: "c1", Type: "function", Name: "read", Arguments: `{"path":"/tmp/x"}`}}, ""),
		ToolResultMessage("c1", "hello"),
	}
	encoded, err := json.Marshal(toOAMessages(msgs))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []oaMessage
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("want 3 messages, got %d", len(decoded))
	}
	if len(decoded[1].ToolCalls) != 1 || decoded[1].ToolCalls[0].ID != "c1" ||
		decoded[1].ToolCalls[0].Function.Name != "read" ||
		decoded[1].ToolCalls[0].Function.Arguments != `{"path":"/tmp/x"}` {
		t.Fatalf("tool call did not round-trip: %+v", decoded[1])
	}
	if decoded[2].ToolCallID != "c1" {
		t.Fatalf("tool_call_id did not round-trip: %+v", decoded[2])
	}

	// The plain user message must not serialize empty optional fields.
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"tool_call_id", "tool_calls"} {
		if _, present := raw[0][key]; present {
			t.Fatalf("absent optional field %q serialized on user message", key)
		}
	}
}
