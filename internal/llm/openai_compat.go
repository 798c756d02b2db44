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

// OpenAICompatProvider implements Provider against the OpenAI-compatible
// dialect: POST {base}/chat/completions with bearer auth, optional SSE
// streaming.
type OpenAICompatProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
	Retry   RetryConfig
}

func NewOpenAICompatProvider(baseURL, apiKey, model string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{},
		Retry:   DefaultRetryConfig(),
	}
}

func (p *OpenAICompatProvider) Name() string { return p.Model }

type oaMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCallOut `json:"tool_calls,omitempty"`
}

type oaToolCallOut struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model         string      `json:"model"`
	Messages      []oaMessage `json:"messages"`
	MaxTokens     int         `json:"max_tokens,omitempty"`
	Tools         []oaTool    `json:"tools,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaChunk struct {
	Choices []struct {
		Delta struct {
			Content          string            `json:"content,omitempty"`
			ReasoningContent string            `json:"reasoning_content,omitempty"`
			ToolCalls        []oaToolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		Message *struct {
			Content          string            `json:"content,omitempty"`
			ReasoningContent string            `json:"reasoning_content,omitempty"`
			ToolCalls        []oaToolCallDelta `json:"tool_calls,omitempty"`
		} `json:"message,omitempty"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage,omitempty"`
}

func toOAMessages(messages []Message) []oaMessage {
	out := make([]oaMessage, 0, len(messages))
	for _, m := range messages {
		om := oaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			out2 := oaToolCallOut{ID: tc.ID, Type: "function"}
			out2.Function.Name = tc.Name
			out2.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, out2)
		}
		out = append(out, om)
	}
	return out
}

func toOATools(tools []ToolDefinition) []oaTool {
	out := make([]oaTool, 0, len(tools))
	for _, t := range tools {
		ot := oaTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Schema
		out = append(out, ot)
	}
	return out
}

func (p *OpenAICompatProvider) buildRequest(ctx context.Context, body oaRequest) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrDecode, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrTransport, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return req, nil
}

func (p *OpenAICompatProvider) do(req *http.Request) (*http.Response, error) {
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

func (p *OpenAICompatProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, UsageStats, error) {
	var completion Completion
	var usage UsageStats
	err := WithRetry(ctx, p.Retry, func() error {
		req, err := p.buildRequest(ctx, oaRequest{Model: p.Model, Messages: toOAMessages(messages), Tools: toOATools(tools), MaxTokens: 4096})
		if err != nil {
			return err
		}
		resp, err := p.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var chunk oaChunk
		if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
			return xerrors.Wrap(xerrors.ErrDecode, err.Error())
		}
		completion, usage = finalizeOAChunk(chunk, messages)
		return nil
	})
	return completion, usage, err
}

func finalizeOAChunk(chunk oaChunk, messages []Message) (Completion, UsageStats) {
	var content, reasoning string
	var calls []ToolCall
	if len(chunk.Choices) > 0 && chunk.Choices[0].Message != nil {
		m := chunk.Choices[0].Message
		content, reasoning = m.Content, m.ReasoningContent
		for _, tc := range m.ToolCalls {
			calls = append(calls, ToolCall{ID: tc.ID, Type: "function", Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
	}
	var usage UsageStats
	if chunk.Usage != nil {
		usage = UsageStats{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens}
	} else {
		usage = estimateUsage(messages, content, reasoning)
	}
	if len(calls) > 0 {
		return Completion{Kind: CompletionToolCalls, ToolCalls: calls, Reasoning: reasoning}, usage
	}
	return Completion{Kind: CompletionText, Content: content, Reasoning: reasoning}, usage
}

// estimateUsage implements the §4.2 rule 6 token fallback: prompt
// tokens ≈ ⌈sum(content lengths)/4⌉, completion tokens ≈
// ⌈(content+reasoning)/4⌉, minimum 1 each.
func estimateUsage(messages []Message, content, reasoning string) UsageStats {
	promptChars := 0
	for _, m := range messages {
		promptChars += len(m.Content)
	}
	prompt := int(math.Ceil(float64(promptChars) / 4))
	if prompt < 1 {
		prompt = 1
	}
	completion := int(math.Ceil(float64(len(content)+len(reasoning)) / 4))
	if completion < 1 {
		completion = 1
	}
	return UsageStats{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func (p *OpenAICompatProvider) CompleteStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, sink Sink) (Completion, UsageStats, error) {
	var completion Completion
	var usage UsageStats
	err := WithRetry(ctx, p.Retry, func() error {
		body := oaRequest{Model: p.Model, Messages: toOAMessages(messages), Tools: toOATools(tools), MaxTokens: 4096, Stream: true}
		body.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
		req, err := p.buildRequest(ctx, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := p.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		completion, usage, err = accumulateOAStream(resp.Body, messages, sink)
		return err
	})
	return completion, usage, err
}

type oaToolAccum struct {
	id, name, args string
}

// accumulateOAStream drains the SSE stream, emitting StreamEvents as
// deltas arrive and finalizing on [DONE] or EOF.
func accumulateOAStream(r io.Reader, messages []Message, sink Sink) (Completion, UsageStats, error) {
	scanner := sse.NewScanner(r)
	var content, reasoning strings.Builder
	var toolCalls []*oaToolAccum
	toolStarted := map[int]bool{}
	var usage *UsageStats

	ensure := func(i int) *oaToolAccum {
		for len(toolCalls) <= i {
			toolCalls = append(toolCalls, &oaToolAccum{})
		}
		return toolCalls[i]
	}

	for {
		fr, ok, err := scanner.Next()
		if err != nil {
			return Completion{}, UsageStats{}, xerrors.Wrap(xerrors.ErrDecode, err.Error())
		}
		if !ok {
			break
		}
		if sse.IsDone(fr.Data) {
			break
		}
		var chunk oaChunk
		if err := json.Unmarshal([]byte(fr.Data), &chunk); err != nil {
			continue // malformed frame: skip, the stream as a whole is still usable
		}
		if chunk.Usage != nil {
			u := UsageStats{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens}
			usage = &u
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		d := chunk.Choices[0].Delta
		if d.Content != "" {
			content.WriteString(d.Content)
			Emit(sink, StreamEvent{Type: EventContentDelta, Delta: d.Content})
		}
		if d.ReasoningContent != "" {
			reasoning.WriteString(d.ReasoningContent)
			Emit(sink, StreamEvent{Type: EventReasoningDelta, Delta: d.ReasoningContent})
		}
		for _, tc := range d.ToolCalls {
			acc := ensure(tc.Index)
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
				if !toolStarted[tc.Index] {
					toolStarted[tc.Index] = true
					Emit(sink, StreamEvent{Type: EventToolCallStart, Name: acc.name})
				}
			}
			acc.args += tc.Function.Arguments
		}
	}

	Emit(sink, StreamEvent{Type: EventDone})

	if len(toolCalls) > 0 {
		calls := make([]ToolCall, 0, len(toolCalls))
		for _, tc := range toolCalls {
			calls = append(calls, ToolCall{ID: tc.id, Type: "function", Name: tc.name, Arguments: tc.args})
		}
		final := UsageStats{}
		if usage != nil {
			final = *usage
		} else {
			final = estimateUsage(messages, content.String(), reasoning.String())
		}
		return Completion{Kind: CompletionToolCalls, ToolCalls: calls, Reasoning: reasoning.String()}, final, nil
	}

	final := UsageStats{}
	if usage != nil {
		final = *usage
	} else {
		final = estimateUsage(messages, content.String(), reasoning.String())
	}
	return Completion{Kind: CompletionText, Content: content.String(), Reasoning: reasoning.String()}, final, nil
}
