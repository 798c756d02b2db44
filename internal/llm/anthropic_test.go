package llm

import (
	"strings"
	"testing"
)

func TestToAnthropic_Translation(t *testing.T) {
	msgs := []Message{
		SystemText("you are helpful"),
		UserText("read the file"),
		AssistantWithToolCalls([]ToolCall{{ID: "c1", Type: "function", Name: "read", Arguments: `{"path":"/tmp/x"}`}}, ""),
		ToolResultMessage("c1", "hello"),
	}
	system, out := toAnthropic(msgs)

	if system != "you are helpful" {
		t.Fatalf("system not extracted: %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("want 3 wire messages (system removed), got %d", len(out))
	}
	asst := out[1]
	if asst.Role != "assistant" || len(asst.Content) != 1 || asst.Content[0].Type != "tool_use" {
		t.Fatalf("assistant tool call not mapped to tool_use: %+v", asst)
	}
	if asst.Content[0].ID != "c1" || asst.Content[0].Name != "read" {
		t.Fatalf("tool_use block lost identity: %+v", asst.Content[0])
	}
	toolMsg := out[2]
	if toolMsg.Role != "user" || toolMsg.Content[0].Type != "tool_result" || toolMsg.Content[0].ToolUseID != "c1" {
		t.Fatalf("tool message not wrapped as user tool_result: %+v", toolMsg)
	}
}

func anthEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

func TestAccumulateAnthStream_TextAndUsage(t *testing.T) {
	input := anthEvent("message_start", `{"type":"message_start","message":{"usage":{"input_tokens":12}}}`) +
		anthEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`) +
		anthEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"po"}}`) +
		anthEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ng"}}`) +
		anthEvent("content_block_stop", `{"type":"content_block_stop","index":0}`) +
		anthEvent("message_delta", `{"type":"message_delta","usage":{"output_tokens":3}}`) +
		anthEvent("message_stop", `{"type":"message_stop"}`)

	sink := make(chan StreamEvent, 32)
	completion, usage, err := accumulateAnthStream(strings.NewReader(input), nil, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Kind != CompletionText || completion.Content != "pong" {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if usage != (UsageStats{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}) {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	events := drainSink(sink)
	if len(events) == 0 || events[len(events)-1].Type != EventDone {
		t.Fatalf("Done must terminate the sequence: %+v", events)
	}
}

func TestAccumulateAnthStream_ToolUseBlocks(t *testing.T) {
	input := anthEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"c9","name":"exec"}}`) +
		anthEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"command\":"}}`) +
		anthEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`) +
		anthEvent("message_stop", `{"type":"message_stop"}`)

	completion, _, err := accumulateAnthStream(strings.NewReader(input), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completion.Kind != CompletionToolCalls || len(completion.ToolCalls) != 1 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	call := completion.ToolCalls[0]
	if call.ID != "c9" || call.Name != "exec" || call.Arguments != `{"command":"ls"}` {
		t.Fatalf("input_json_delta reassembly failed: %+v", call)
	}
}

func TestAccumulateAnthStream_UsageFallback(t *testing.T) {
	input := anthEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`) +
		anthEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)
	history := []Message{UserText("hello there")}
	_, usage, err := accumulateAnthStream(strings.NewReader(input), history, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.PromptTokens < 1 || usage.CompletionTokens < 1 {
		t.Fatalf("estimates must be >= 1 each: %+v", usage)
	}
}
