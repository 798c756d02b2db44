package tools

import "github.com/samsaffron/agentrun/internal/llm"

// MCPServer names one configured MCP bridge target. Every bridge tool
// is named "mcp-bridge", so several servers do not get distinct tool
// names; the common case is zero or one entry.
type MCPServer struct {
	Name   string
	Config MCPServerConfig
}

// NewDefaultRegistry builds the registry of built-in tools: exec, read,
// write, patch, grep, find, list_dir, memory, web_fetch, process,
// delegate, tasks, plus one mcp-bridge per configured server. The
// delegate tool is returned separately so the engine can wire its
// DelegateRunner once the turn-running machinery exists, and so child
// registries can call Without("delegate") to block recursive
// delegation.
func NewDefaultRegistry(mcpServers []MCPServer) (*llm.Registry, *DelegateTool) {
	reg := llm.NewRegistry()

	reg.Register(NewExecTool())
	reg.Register(NewReadTool())
	reg.Register(NewWriteTool())
	reg.Register(NewPatchTool())
	reg.Register(NewGrepTool())
	reg.Register(NewFindTool())
	reg.Register(NewListDirTool())
	reg.Register(NewMemoryTool())
	reg.Register(NewWebFetchTool())
	reg.Register(NewProcessTool())
	reg.Register(NewTasksTool())

	delegate := NewDelegateTool()
	reg.Register(delegate)

	for _, srv := range mcpServers {
		reg.Register(NewMCPBridgeTool(srv.Name, srv.Config))
	}

	return reg, delegate
}
