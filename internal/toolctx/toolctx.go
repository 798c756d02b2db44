// Package toolctx carries the per-call capability bundle through
// context.Context rather than widening every Tool.Execute signature.
package toolctx

import (
	"context"

	"github.com/samsaffron/agentrun/internal/sandbox"
)

// TaskStatus tags a TaskInfo's lifecycle state.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskInfo is one entry of the host's subagent/task registry.
type TaskInfo struct {
	ID          int64
	Description string
	Status      TaskStatus
	FailMessage string
	StartedAt   int64 // ms since epoch
	ChatID      string
}

// QueryFunc looks up tasks for the tasks tool: empty id lists all tasks,
// otherwise a single matching TaskInfo is returned.
type QueryFunc func(id string) ([]TaskInfo, error)

// CancelFunc requests cancellation of a running task by id.
type CancelFunc func(id string) error

// Context is the capability bundle built once per turn and shared by
// reference through every tool dispatch in that turn.
type Context struct {
	WorkspaceDir string
	AgentName    string
	SessionKey   string
	Sandbox      sandbox.Policy

	QueryTasks  QueryFunc  // nil when the host doesn't expose task introspection
	CancelTask  CancelFunc // nil when the host doesn't expose cancellation
	CallID      string     // the tool call id correlated with this dispatch
}

type ctxKey struct{}

// With returns a derived context carrying tc, retrievable by From.
func With(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// From extracts the Context previously attached by With, or nil.
func From(ctx context.Context) *Context {
	tc, _ := ctx.Value(ctxKey{}).(*Context)
	return tc
}

// WithCallID returns a derived context whose attached Context (if any)
// is copied with CallID set, so sibling dispatches in one round never
// see each other's call id.
func WithCallID(ctx context.Context, callID string) context.Context {
	tc := From(ctx)
	if tc == nil {
		return ctx
	}
	cp := *tc
	cp.CallID = callID
	return With(ctx, &cp)
}
