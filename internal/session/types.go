// Package session implements the durable session store: an append-only
// log of messages per session key, plus the per-session info record
// used to list and resume sessions.
package session

import "github.com/samsaffron/agentrun/internal/llm"

// Info is the persistent per-session record. MessageCount is derived
// (counted, not stored).
type Info struct {
	Key          string
	Agent        string
	Model        string
	CreatedAtMs  int64
	UpdatedAtMs  int64
	TotalTokens  int64
	MessageCount int
}

// StoredMessage is one persisted message row. ToolCallsJSON holds the
// serialized []llm.ToolCall for Assistant-role
// messages; empty otherwise.
type StoredMessage struct {
	ID            int64
	SessionKey    string
	Role          llm.Role
	Content       string
	Reasoning     string
	ToolCallsJSON string
	ToolCallID    string
	TimestampMs   int64
}

// ToMessage converts a StoredMessage back to the canonical llm.Message,
// decoding ToolCallsJSON if present.
func (m StoredMessage) ToMessage() (llm.Message, error) {
	msg := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Reasoning:  m.Reasoning,
		ToolCallID: m.ToolCallID,
	}
	if m.ToolCallsJSON != "" {
		calls, err := decodeToolCalls(m.ToolCallsJSON)
		if err != nil {
			return llm.Message{}, err
		}
		msg.ToolCalls = calls
	}
	return msg, nil
}

// FromMessage builds the persisted representation of msg, not yet
// bound to a session key, id, or timestamp (caller fills those in).
func FromMessage(msg llm.Message) (StoredMessage, error) {
	sm := StoredMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		Reasoning:  msg.Reasoning,
		ToolCallID: msg.ToolCallID,
	}
	if len(msg.ToolCalls) > 0 {
		encoded, err := encodeToolCalls(msg.ToolCalls)
		if err != nil {
			return StoredMessage{}, err
		}
		sm.ToolCallsJSON = encoded
	}
	return sm, nil
}
