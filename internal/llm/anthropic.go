package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/samsaffron/agentrun/internal/llm/sse"
	"github.com/samsaffron/agentrun/internal/xerrors"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements Provider against the Anthropic-style
// dialect: system param extraction, tool_use/
// tool_result content blocks, named SSE events.
type AnthropicProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
	Retry   RetryConfig
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		BaseURL: "https://api.anthropic.com",
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{},
		Retry:   DefaultRetryConfig(),
	}
}

func (p *AnthropicProvider) Name() string { return p.Model }

type anthContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthMessage struct {
	Role    string             `json:"role"`
	Content []anthContentBlock `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []anthMessage `json:"messages"`
	Tools     []anthTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
}

type anthUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// toAnthropic translates the canonical history: System messages become
// the top-level system param; Tool messages become a User message
// wrapping a tool_result block; Assistant tool calls become tool_use
// blocks.
func toAnthropic(messages []Message) (string, []anthMessage) {
	var system strings.Builder
	out := make([]anthMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case RoleTool:
			out = append(out, anthMessage{Role: "user", Content: []anthContentBlock{{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
			}}})
		case RoleAssistant:
			var blocks []anthContentBlock
			if m.Content != "" {
				blocks = append(blocks, anthContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments)})
			}
			out = append(out, anthMessage{Role: "assistant", Content: blocks})
		default: // user
			blocks := []anthContentBlock{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				blocks = append(blocks, anthContentBlock{Type: "image", Text: img})
			}
			out = append(out, anthMessage{Role: "user", Content: blocks})
		}
	}
	return system.String(), out
}

func toAnthTools(tools []ToolDefinition) []anthTool {
	out := make([]anthTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.Schema})
	}
	return out
}

func (p *AnthropicProvider) buildRequest(ctx context.Context, body anthRequest) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrDecode, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTransport, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (p *AnthropicProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTransport, err.Error())
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: resp.Header.Get("Retry-After")}
	}
	return resp, nil
}

type anthResponse struct {
	Content    []anthContentBlock `json:"content"`
	Usage      anthUsage          `json:"usage"`
	StopReason string             `json:"stop_reason"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, UsageStats, error) {
	var completion Completion
	var usage UsageStats
	err := WithRetry(ctx, p.Retry, func() error {
		system, msgs := toAnthropic(messages)
		req, err := p.buildRequest(ctx, anthRequest{Model: p.Model, System: system, Messages: msgs, Tools: toAnthTools(tools), MaxTokens: 4096})
		if err != nil {
			return err
		}
		resp, err := p.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var ar anthResponse
		if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
			return xerrors.Wrap(xerrors.ErrDecode, err.Error())
		}
		completion = completionFromBlocks(ar.Content)
		usage = UsageStats{PromptTokens: ar.Usage.InputTokens, CompletionTokens: ar.Usage.OutputTokens, TotalTokens: ar.Usage.InputTokens + ar.Usage.OutputTokens}
		return nil
	})
	return completion, usage, err
}

func completionFromBlocks(blocks []anthContentBlock) Completion {
	var content strings.Builder
	var calls []ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content.WriteString(b.Text)
		case "tool_use":
			calls = append(calls, ToolCall{ID: b.ID, Type: "function", Name: b.Name, Arguments: string(b.Input)})
		}
	}
	if len(calls) > 0 {
		return Completion{Kind: CompletionToolCalls, ToolCalls: calls}
	}
	return Completion{Kind: CompletionText, Content: content.String()}
}

func (p *AnthropicProvider) CompleteStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, sink Sink) (Completion, UsageStats, error) {
	var completion Completion
	var usage UsageStats
	err := WithRetry(ctx, p.Retry, func() error {
		system, msgs := toAnthropic(messages)
		req, err := p.buildRequest(ctx, anthRequest{Model: p.Model, System: system, Messages: msgs, Tools: toAnthTools(tools), MaxTokens: 4096, Stream: true})
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := p.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		completion, usage, err = accumulateAnthStream(resp.Body, messages, sink)
		return err
	})
	return completion, usage, err
}

type anthBlockAccum struct {
	kind string
	text strings.Builder
	id   string
	name string
	args strings.Builder
}

// accumulateAnthStream consumes named SSE events
// (message_start/content_block_start/delta/stop/message_delta/
// message_stop) carrying typed deltas (text_delta, input_json_delta),
// accumulated per block index.
func accumulateAnthStream(r io.Reader, messages []Message, sink Sink) (Completion, UsageStats, error) {
	scanner := sse.NewScanner(r)
	blocks := map[int]*anthBlockAccum{}
	started := map[int]bool{}
	var usage UsageStats
	var order []int

	for {
		fr, ok, err := scanner.Next()
		if err != nil {
			return Completion{}, UsageStats{}, xerrors.Wrap(xerrors.ErrDecode, err.Error())
		}
		if !ok {
			break
		}
		var payload struct {
			Type  string `json:"type"`
			Index int    `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
			ContentBlock anthContentBlock `json:"content_block"`
			Usage        anthUsage        `json:"usage"`
			Message      struct {
				Usage anthUsage `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(fr.Data), &payload); err != nil {
			continue
		}
		switch fr.Event {
		case "message_start":
			usage.PromptTokens = payload.Message.Usage.InputTokens
		case "content_block_start":
			acc := &anthBlockAccum{kind: payload.ContentBlock.Type, id: payload.ContentBlock.ID, name: payload.ContentBlock.Name}
			blocks[payload.Index] = acc
			order = append(order, payload.Index)
			if acc.kind == "tool_use" && !started[payload.Index] {
				started[payload.Index] = true
				Emit(sink, StreamEvent{Type: EventToolCallStart, Name: acc.name})
			}
		case "content_block_delta":
			acc := blocks[payload.Index]
			if acc == nil {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				acc.text.WriteString(payload.Delta.Text)
				Emit(sink, StreamEvent{Type: EventContentDelta, Delta: payload.Delta.Text})
			case "input_json_delta":
				acc.args.WriteString(payload.Delta.PartialJSON)
			}
		case "message_delta":
			usage.CompletionTokens = payload.Usage.OutputTokens
		case "message_stop":
			// terminal; loop exits on scanner EOF regardless
		}
	}

	Emit(sink, StreamEvent{Type: EventDone})

	var content strings.Builder
	var calls []ToolCall
	for _, idx := range order {
		acc := blocks[idx]
		switch acc.kind {
		case "text":
			content.WriteString(acc.text.String())
		case "tool_use":
			calls = append(calls, ToolCall{ID: acc.id, Type: "function", Name: acc.name, Arguments: acc.args.String()})
		}
	}

	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = estimateAnthUsage(messages, content.String())
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	if len(calls) > 0 {
		return Completion{Kind: CompletionToolCalls, ToolCalls: calls}, usage, nil
	}
	return Completion{Kind: CompletionText, Content: content.String()}, usage, nil
}

// estimateAnthUsage is the Anthropic-path token fallback. It is a
// non-authoritative estimate from raw message char counts and makes no
// attempt at parity with the OpenAI path's content+reasoning rule.
func estimateAnthUsage(messages []Message, content string) UsageStats {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	prompt := int(math.Ceil(float64(chars) / 4))
	if prompt < 1 {
		prompt = 1
	}
	completion := int(math.Ceil(float64(len(content)) / 4))
	if completion < 1 {
		completion = 1
	}
	return UsageStats{PromptTokens: prompt, CompletionTokens: completion}
}
