// Package tools implements the built-in tool set plus the MCP bridge
// tool, each satisfying llm.Tool and gated by a sandbox.Policy carried
// in the per-call toolctx.Context.
package tools

import "fmt"

// ErrKind classifies a tool failure for the model's own retry logic.
type ErrKind string

const (
	ErrInvalidParams    ErrKind = "INVALID_PARAMS"
	ErrPathDenied       ErrKind = "PATH_DENIED"
	ErrNotFound         ErrKind = "NOT_FOUND"
	ErrNotADirectory    ErrKind = "NOT_A_DIRECTORY"
	ErrTooLarge         ErrKind = "TOO_LARGE"
	ErrExecutionFailed  ErrKind = "EXECUTION_FAILED"
	ErrCommandBlocked   ErrKind = "COMMAND_BLOCKED"
	ErrTimeout          ErrKind = "TIMEOUT"
	ErrSpawnError       ErrKind = "SPAWN_ERROR"
	ErrAmbiguousMatch   ErrKind = "AMBIGUOUS_MATCH"
	ErrNoMatch          ErrKind = "NO_MATCH"
	ErrNoOp             ErrKind = "NO_OP"
	ErrMissingField     ErrKind = "MISSING_FIELD"
	ErrBadScheme        ErrKind = "BAD_SCHEME"
	ErrHTTPError        ErrKind = "HTTP_ERROR"
	ErrUnknownID        ErrKind = "UNKNOWN_ID"
	ErrNestedFailure    ErrKind = "NESTED_FAILURE"
	ErrCancelled        ErrKind = "CANCELLED"
	ErrUnavailable      ErrKind = "UNAVAILABLE"
)

// toolErr formats a (kind, message) pair the way the turn engine expects
// tool-error text: the "[ERROR] " prefix is added by the engine itself,
// so tools only format the body.
func toolErr(kind ErrKind, format string, args ...any) string {
	return fmt.Sprintf("%s: %s", kind, fmt.Sprintf(format, args...))
}
