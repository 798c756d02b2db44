package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/samsaffron/agentrun/internal/llm"
)

// DelegateResult is the output of a completed nested turn.
type DelegateResult struct {
	Output string
}

// DelegateRunner runs an isolated nested turn for the delegate tool.
// It is set by the engine package (which owns the turn loop) to avoid
// an import cycle between internal/tools and internal/engine.
type DelegateRunner interface {
	// RunDelegate runs a fresh, minimal-context turn for description/prompt
	// and returns its final text. ctx carries the parent's cancel handle,
	// so cancelling the parent turn cancels the child.
	RunDelegate(ctx context.Context, description, prompt string) (DelegateResult, error)
}

// DelegateTool implements the "delegate" (subagent) tool. The running
// turn engine removes delegate from the registry it hands to the child,
// so a delegated turn cannot itself delegate.
type DelegateTool struct {
	mu     sync.Mutex
	runner DelegateRunner
}

func NewDelegateTool() *DelegateTool { return &DelegateTool{} }

// SetRunner wires the engine-provided nested-turn runner.
func (t *DelegateTool) SetRunner(r DelegateRunner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runner = r
}

type delegateArgs struct {
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func (t *DelegateTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "delegate",
		Description: "Spawn an isolated subagent turn with a fresh session and minimal inherited context. The subagent cannot itself delegate.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{"type": "string", "description": "Short label for the delegated task"},
				"prompt":      map[string]any{"type": "string", "description": "Full task/prompt for the subagent"},
			},
			"required":             []string{"prompt"},
			"additionalProperties": false,
		},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a delegateArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}
	if a.Prompt == "" {
		return llm.ErrorOutput(toolErr(ErrMissingField, "prompt is required")), nil
	}

	t.mu.Lock()
	runner := t.runner
	t.mu.Unlock()
	if runner == nil {
		return llm.ErrorOutput(toolErr(ErrNestedFailure, "delegate runner not configured")), nil
	}

	result, err := runner.RunDelegate(ctx, a.Description, a.Prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			return llm.ErrorOutput(toolErr(ErrCancelled, "delegated turn was cancelled")), nil
		}
		return llm.ErrorOutput(toolErr(ErrNestedFailure, "%v", err)), nil
	}
	return llm.TextOutput(result.Output), nil
}
