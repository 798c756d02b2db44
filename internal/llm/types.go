// Package llm holds the canonical message/tool data model and the
// Provider abstraction (fallback chain, retry, and the OpenAI-compatible,
// Anthropic, and Bedrock wire dialects).
package llm

import "context"

// Role tags who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical in-memory chat message. Only Tool-role
// messages carry a ToolCallID; only Assistant-role messages carry
// ToolCalls. A message that carries ToolCalls may have empty Content —
// the two are not both "active" on one assistant turn.
type Message struct {
	Role      Role
	Content   string
	Reasoning string
	ToolCalls []ToolCall // set on Assistant messages issuing calls
	ToolCallID string    // set on Tool messages answering a call
	Images    []string   // base64 or URL references, order preserved
}

// ToolCall is a single function-call request emitted by the model.
// Arguments is the model's raw (possibly malformed) JSON payload.
type ToolCall struct {
	ID        string
	Type      string // always "function" today
	Name      string
	Arguments string
}

// ToolDefinition is what gets sent to the provider each round.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// CompletionKind tags the sum type returned by a provider round.
type CompletionKind int

const (
	CompletionText CompletionKind = iota
	CompletionToolCalls
)

// Completion is the sum type `Text{...} | ToolCalls{...}`.
type Completion struct {
	Kind      CompletionKind
	Content   string
	Reasoning string
	ToolCalls []ToolCall
}

// UsageStats are additive per-round token counters.
type UsageStats struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the field-by-field sum of u and o.
func (u UsageStats) Add(o UsageStats) UsageStats {
	return UsageStats{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// StreamEventType tags the lazy, finite, non-restartable StreamEvent
// sequence a Provider emits while streaming.
type StreamEventType int

const (
	EventContentDelta StreamEventType = iota
	EventReasoningDelta
	EventToolCallStart
	EventToolExec
	EventToolResult
	EventRoundStart
	EventDone
)

// StreamEvent is one element of a streamed completion's event sequence.
// Done is always the last event emitted, exactly once.
type StreamEvent struct {
	Type    StreamEventType
	Delta   string // ContentDelta / ReasoningDelta payload
	Name    string // ToolCallStart / ToolExec / ToolResult tool name
	CallID  string // ToolExec call id
	Success bool   // ToolResult outcome
	Round   int    // RoundStart round number
}

// Sink receives StreamEvents. Producers never block: a full sink
// silently drops the event.
type Sink chan<- StreamEvent

// Emit sends ev to sink if sink is non-nil, swallowing a full channel.
func Emit(sink Sink, ev StreamEvent) {
	if sink == nil {
		return
	}
	select {
	case sink <- ev:
	default:
	}
}

// Provider is the adapter from (messages, tools) to a Completion.
// complete_streaming additionally drains events into sink as they
// arrive. name() is used in logs and session records.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, UsageStats, error)
	CompleteStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, sink Sink) (Completion, UsageStats, error)
}

// SystemText builds a System-role message.
func SystemText(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserText builds a User-role message.
func UserText(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantWithToolCalls builds an Assistant-role message carrying calls.
func AssistantWithToolCalls(calls []ToolCall, reasoning string) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls, Reasoning: reasoning}
}

// AssistantText builds a plain Assistant-role text message.
func AssistantText(text, reasoning string) Message {
	return Message{Role: RoleAssistant, Content: text, Reasoning: reasoning}
}

// ToolResultMessage builds the Tool-role message answering callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}
