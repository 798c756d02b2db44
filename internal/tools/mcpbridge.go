package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/samsaffron/agentrun/internal/llm"
)

// MCPServerConfig names the stdio command used to launch one configured
// MCP server. Only the stdio transport is supported.
type MCPServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// MCPBridgeTool exposes list_tools/call against one configured MCP
// server, connecting lazily on first use and holding the session open
// for the life of the tool.
type MCPBridgeTool struct {
	name   string
	config MCPServerConfig

	mu      sync.Mutex
	client  *mcp.Client
	session *mcp.ClientSession
}

func NewMCPBridgeTool(name string, config MCPServerConfig) *MCPBridgeTool {
	return &MCPBridgeTool{name: name, config: config}
}

type mcpBridgeArgs struct {
	Action string          `json:"action"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

func (t *MCPBridgeTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "mcp-bridge",
		Description: fmt.Sprintf("Bridge to the configured MCP server %q. list_tools enumerates its tools; call invokes one by name with JSON arguments.", t.name),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"list_tools", "call"}},
				"tool":   map[string]any{"type": "string", "description": "Tool name (required for call)"},
				"args":   map[string]any{"type": "object", "description": "Arguments for the tool (required for call)"},
			},
			"required":             []string{"action"},
			"additionalProperties": false,
		},
	}
}

func (t *MCPBridgeTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a mcpBridgeArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}

	session, err := t.ensureSession(ctx)
	if err != nil {
		return llm.ErrorOutput(toolErr(ErrUnavailable, "%v", err)), nil
	}

	switch a.Action {
	case "list_tools":
		result, err := session.ListTools(ctx, nil)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "list tools: %v", err)), nil
		}
		var sb strings.Builder
		for _, tl := range result.Tools {
			fmt.Fprintf(&sb, "%s: %s\n", tl.Name, tl.Description)
		}
		out := strings.TrimSuffix(sb.String(), "\n")
		if out == "" {
			out = "(no tools)"
		}
		return llm.TextOutput(out), nil

	case "call":
		if a.Tool == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "tool is required for call")), nil
		}
		var arguments map[string]any
		if len(a.Args) > 0 {
			if err := json.Unmarshal(a.Args, &arguments); err != nil {
				return llm.ErrorOutput(toolErr(ErrInvalidParams, "invalid args: %v", err)), nil
			}
		}
		result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: a.Tool, Arguments: arguments})
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "call %s: %v", a.Tool, err)), nil
		}
		text := formatMCPContent(result.Content)
		if result.IsError {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%s", text)), nil
		}
		return llm.TextOutput(text), nil

	default:
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "unknown action %q", a.Action)), nil
	}
}

func (t *MCPBridgeTool) ensureSession(ctx context.Context) (*mcp.ClientSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return t.session, nil
	}
	if t.config.Command == "" {
		return nil, fmt.Errorf("mcp-bridge server %q has no command configured", t.name)
	}

	t.client = mcp.NewClient(&mcp.Implementation{Name: "agentrun", Version: "1.0.0"}, nil)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	transport := &mcp.CommandTransport{Command: cmd}

	session, err := t.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server %s: %w", t.name, err)
	}
	t.session = session
	return session, nil
}

func formatMCPContent(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			sb.Write(data)
		}
	}
	return sb.String()
}
