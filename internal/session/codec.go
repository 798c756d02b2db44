package session

import (
	"encoding/json"

	"github.com/samsaffron/agentrun/internal/llm"
)

func encodeToolCalls(calls []llm.ToolCall) (string, error) {
	b, err := json.Marshal(calls)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeToolCalls(raw string) ([]llm.ToolCall, error) {
	var calls []llm.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, err
	}
	return calls, nil
}
