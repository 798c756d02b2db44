package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/toolctx"
)

// TasksTool is a pure query over the host-supplied task registry
// reached through toolctx.Context.QueryTasks/CancelTask. Unlike
// process.go, the backing registry belongs to the host, not the tool.
type TasksTool struct{}

func NewTasksTool() *TasksTool { return &TasksTool{} }

type tasksArgs struct {
	Action string `json:"action"`
	TaskID string `json:"task_id,omitempty"`
}

func (t *TasksTool) Spec() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "tasks",
		Description: "Query or cancel host-tracked background tasks (e.g. delegated subagent runs). list shows all tasks, status reports one, cancel requests termination.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":  map[string]any{"type": "string", "enum": []string{"list", "status", "cancel"}},
				"task_id": map[string]any{"type": "string", "description": "Required for status/cancel"},
			},
			"required":             []string{"action"},
			"additionalProperties": false,
		},
	}
}

func (t *TasksTool) Execute(ctx context.Context, raw json.RawMessage) (llm.ToolOutput, error) {
	var a tasksArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "%v", err)), nil
	}

	tc := toolctx.From(ctx)

	switch a.Action {
	case "list":
		if tc == nil || tc.QueryTasks == nil {
			return llm.ErrorOutput(toolErr(ErrUnavailable, "no task registry available in this host")), nil
		}
		infos, err := tc.QueryTasks("")
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		return llm.TextOutput(formatTaskInfos(infos)), nil

	case "status":
		if a.TaskID == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "task_id is required for status")), nil
		}
		if tc == nil || tc.QueryTasks == nil {
			return llm.ErrorOutput(toolErr(ErrUnavailable, "no task registry available in this host")), nil
		}
		infos, err := tc.QueryTasks(a.TaskID)
		if err != nil {
			return llm.ErrorOutput(toolErr(ErrExecutionFailed, "%v", err)), nil
		}
		if len(infos) == 0 {
			return llm.ErrorOutput(toolErr(ErrNotFound, "no task with id %s", a.TaskID)), nil
		}
		return llm.TextOutput(formatTaskInfos(infos)), nil

	case "cancel":
		if a.TaskID == "" {
			return llm.ErrorOutput(toolErr(ErrMissingField, "task_id is required for cancel")), nil
		}
		if tc == nil || tc.CancelTask == nil {
			return llm.ErrorOutput(toolErr(ErrUnavailable, "task cancellation not available in this host")), nil
		}
		if err := tc.CancelTask(a.TaskID); err != nil {
			return llm.ErrorOutput(toolErr(ErrNotFound, "%v", err)), nil
		}
		return llm.TextOutput(fmt.Sprintf("Cancellation requested for task %s", a.TaskID)), nil

	default:
		return llm.ErrorOutput(toolErr(ErrInvalidParams, "unknown action %q", a.Action)), nil
	}
}

func formatTaskInfos(infos []toolctx.TaskInfo) string {
	if len(infos) == 0 {
		return "(no tasks)"
	}
	var sb strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&sb, "%s  %-10s  %s", strconv.FormatInt(info.ID, 10), info.Status, info.Description)
		if info.FailMessage != "" {
			fmt.Fprintf(&sb, "  (%s)", info.FailMessage)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
