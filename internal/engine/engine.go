// Package engine implements the turn engine: the outer loop binding
// provider, tools, sandbox, loop detector, watchdog, and session store
// into one request/response cycle.
//
// Tool dispatch within a round is sequential, in the order the model
// issued the calls: the cancel handle and the loop detector are checked
// before each individual call, and result messages append in call
// order, so a parallel fan-out would have to serialize right back.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/agentrun/internal/debuglog"
	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/loopdetect"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/session"
	"github.com/samsaffron/agentrun/internal/toolctx"
	"github.com/samsaffron/agentrun/internal/tools"
	"github.com/samsaffron/agentrun/internal/watchdog"
	"github.com/samsaffron/agentrun/internal/workspace"
)

// MaxRounds is the hard ceiling on provider round-trips within one
// turn; exhausting it yields a terminal result, not an error.
const MaxRounds = 20

// Config configures an Engine. Provider and Registry are required;
// everything else has a usable zero value.
type Config struct {
	Provider llm.Provider
	Registry *llm.Registry
	Delegate *tools.DelegateTool // wired with SetRunner(engine) if non-nil

	Sandbox sandbox.Policy
	Store   session.Store // nil disables history load/persistence

	AgentName    string
	WorkspaceDir string

	IdleTimeout  time.Duration // default 60s
	MaxWallClock time.Duration // default 600s

	LoopDetectConfig loopdetect.Config // default loopdetect.DefaultConfig()

	QueryTasks toolctx.QueryFunc
	CancelTask toolctx.CancelFunc

	DebugLogDir string // non-empty enables per-session JSONL request/event logging
}

// Engine runs turns against one provider/registry/sandbox combination.
// It is safe to call RunTurn concurrently for independent session keys;
// sessions share nothing but the store, which serializes per session.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxWallClock == 0 {
		cfg.MaxWallClock = 600 * time.Second
	}
	if cfg.LoopDetectConfig == (loopdetect.Config{}) {
		cfg.LoopDetectConfig = loopdetect.DefaultConfig()
	}
	e := &Engine{cfg: cfg}
	if cfg.Delegate != nil {
		cfg.Delegate.SetRunner(e)
	}
	return e
}

// TurnInput is the per-call request to RunTurn.
type TurnInput struct {
	UserText       string
	SessionKey     string
	MinimalContext bool
	Sink           llm.Sink // optional; events are emitted if non-nil
	CancelHandle   *watchdog.CancelHandle
}

// TurnResult is the pseudocode contract's output record.
type TurnResult struct {
	Response     string
	Reasoning    string
	Model        string
	ToolCalls    int
	Rounds       int
	Usage        llm.UsageStats
	Elapsed      time.Duration
	TurnMessages []llm.Message
}

// RunTurn drives one agent turn to completion: load context, loop
// provider rounds, execute tool calls, and return the final result.
func (e *Engine) RunTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	start := time.Now()

	ws, err := workspace.Load(e.cfg.WorkspaceDir, in.MinimalContext)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: load workspace: %w", err)
	}

	messages := []llm.Message{llm.SystemText(ws.SystemPrompt)}
	if e.cfg.Store != nil {
		_ = e.cfg.Store.CreateSession(ctx, in.SessionKey, e.cfg.AgentName, e.cfg.Provider.Name())
		if prior, err := e.cfg.Store.LoadMessages(ctx, in.SessionKey); err == nil {
			for _, sm := range prior {
				m, err := sm.ToMessage()
				if err != nil {
					continue
				}
				messages = append(messages, m)
			}
		}
	}
	userMsg := llm.UserText(in.UserText)
	messages = append(messages, userMsg)
	if e.cfg.Store != nil {
		if sm, err := session.FromMessage(userMsg); err == nil {
			_ = e.cfg.Store.AppendMessage(ctx, in.SessionKey, sm)
		}
	}

	toolDefs := e.cfg.Registry.Definitions()
	tc := &toolctx.Context{
		WorkspaceDir: e.cfg.WorkspaceDir,
		AgentName:    e.cfg.AgentName,
		SessionKey:   in.SessionKey,
		Sandbox:      e.cfg.Sandbox,
		QueryTasks:   e.cfg.QueryTasks,
		CancelTask:   e.cfg.CancelTask,
	}

	handle := in.CancelHandle
	if handle == nil {
		handle = watchdog.NewCancelHandle()
	}
	toolCtx := withHandle(toolctx.With(ctx, tc), handle)
	wd := watchdog.New(e.cfg.IdleTimeout, e.cfg.MaxWallClock, handle)
	wdHandle := wd.Spawn("agent-turn")
	defer wdHandle.Stop()

	// Providers emit a Done at the end of every per-round stream, but the
	// turn's event sequence must carry exactly one Done, last. All
	// emissions go through a forwarder that drops round-level Done events;
	// the single turn-level Done goes out after the forwarder drains.
	sink := in.Sink
	var mid chan llm.StreamEvent
	var pumpDone chan struct{}
	emitFinalDone := false
	if in.Sink != nil {
		mid = make(chan llm.StreamEvent, 256)
		pumpDone = make(chan struct{})
		go func() {
			defer close(pumpDone)
			for ev := range mid {
				if ev.Type == llm.EventDone {
					continue
				}
				llm.Emit(in.Sink, ev)
			}
		}()
		sink = mid
	}
	defer func() {
		if mid != nil {
			close(mid)
			<-pumpDone
		}
		if emitFinalDone {
			llm.Emit(in.Sink, llm.StreamEvent{Type: llm.EventDone})
		}
	}()

	var dbg *debuglog.Logger
	if e.cfg.DebugLogDir != "" {
		if l, err := debuglog.NewLogger(e.cfg.DebugLogDir, in.SessionKey); err == nil {
			dbg = l
			defer dbg.Close()
		}
	}

	detector := loopdetect.New(e.cfg.LoopDetectConfig)
	var totalUsage llm.UsageStats
	var toolCallsMade int
	var turnMessages []llm.Message
	rounds := 0

	appendMsg := func(m llm.Message) {
		messages = append(messages, m)
		turnMessages = append(turnMessages, m)
		if e.cfg.Store != nil {
			sm, err := session.FromMessage(m)
			if err == nil {
				_ = e.cfg.Store.AppendMessage(ctx, in.SessionKey, sm)
			}
		}
	}

	finalize := func(response string) TurnResult {
		return TurnResult{
			Response:     response,
			Model:        e.cfg.Provider.Name(),
			ToolCalls:    toolCallsMade,
			Rounds:       rounds,
			Usage:        totalUsage,
			Elapsed:      time.Since(start),
			TurnMessages: turnMessages,
		}
	}

	for round := 1; round <= MaxRounds; round++ {
		rounds = round
		llm.Emit(sink, llm.StreamEvent{Type: llm.EventRoundStart, Round: round})
		wd.Touch()

		if handle.Cancelled() {
			emitFinalDone = true
			return finalize("(cancelled)"), nil
		}

		if dbg != nil {
			dbg.LogRequest(e.cfg.Provider.Name(), e.cfg.Provider.Name(), debugRequestData(round, messages, toolDefs))
		}
		completion, usage, err := e.cfg.Provider.CompleteStreaming(ctx, messages, toolDefs, sink)
		wd.Touch()
		totalUsage = totalUsage.Add(usage)
		if err != nil {
			if dbg != nil {
				dbg.LogEvent("error", map[string]any{"round": round, "error": err.Error()})
			}
			return TurnResult{}, fmt.Errorf("engine: round %d: %w", round, err)
		}
		if dbg != nil {
			dbg.LogEvent("usage", map[string]any{
				"round":             round,
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
				"total_tokens":      usage.TotalTokens,
			})
		}
		if e.cfg.Store != nil && usage.TotalTokens > 0 {
			_ = e.cfg.Store.AddTokens(ctx, in.SessionKey, int64(usage.TotalTokens))
		}

		if completion.Kind == llm.CompletionText {
			appendMsg(llm.AssistantText(completion.Content, completion.Reasoning))
			emitFinalDone = true
			result := finalize(completion.Content)
			result.Reasoning = completion.Reasoning
			return result, nil
		}

		asst := llm.AssistantWithToolCalls(completion.ToolCalls, completion.Reasoning)
		appendMsg(asst)

		for _, call := range completion.ToolCalls {
			if handle.Cancelled() {
				emitFinalDone = true
				return finalize("(cancelled)"), nil
			}

			args := parseArgs(call.Arguments)
			argsHash := loopdetect.CanonicalArgsHash(args)
			verdict := detector.Check(call.Name, argsHash)

			var result llm.ToolOutput
			if verdict.Kind == loopdetect.Block {
				result = llm.ErrorOutput(verdict.Message)
				detector.RecordBlock()
				if dbg != nil {
					dbg.LogEvent("tool_blocked", map[string]any{"name": call.Name, "detector": verdict.Detector, "count": verdict.Count})
				}
			} else {
				llm.Emit(sink, llm.StreamEvent{Type: llm.EventToolCallStart, Name: call.Name, CallID: call.ID})
				wd.Touch()
				callCtx := toolctx.WithCallID(toolCtx, call.ID)
				result, err = e.cfg.Registry.Execute(callCtx, call.Name, json.RawMessage(call.Arguments))
				if err != nil {
					result = llm.ErrorOutput(err.Error())
				}
				llm.Emit(sink, llm.StreamEvent{Type: llm.EventToolResult, Name: call.Name, CallID: call.ID, Success: !result.IsError})
				wd.Touch()
				detector.RecordCall(call.Name, argsHash)
				detector.RecordOutcome(call.Name, argsHash, result.Content)
				if verdict.Kind == loopdetect.Warn {
					result.Content = result.Content + "\n\n" + verdict.Message
				}
				if dbg != nil {
					dbg.LogEvent("tool_result", map[string]any{"name": call.Name, "call_id": call.ID, "is_error": result.IsError})
				}
			}
			toolCallsMade++

			text := result.Content
			if result.IsError {
				text = "[ERROR] " + text
			}
			appendMsg(llm.ToolResultMessage(call.ID, text))
		}
	}

	emitFinalDone = true
	return finalize("(reached max rounds)"), nil
}

type handleCtxKey struct{}

// withHandle attaches the running turn's cancel handle to ctx so a
// delegate tool dispatched from this turn can recover it in RunDelegate.
func withHandle(ctx context.Context, h *watchdog.CancelHandle) context.Context {
	return context.WithValue(ctx, handleCtxKey{}, h)
}

func handleFrom(ctx context.Context) *watchdog.CancelHandle {
	h, _ := ctx.Value(handleCtxKey{}).(*watchdog.CancelHandle)
	return h
}

func parseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

// debugRequestData builds the JSONL-loggable shape for one round's
// outbound request, reusing the reader-side types so sessions recorded
// here are immediately readable by debuglog.ParseSession/FormatSession.
func debugRequestData(round int, messages []llm.Message, toolDefs []llm.ToolDefinition) debuglog.RequestData {
	out := debuglog.RequestData{Round: round}
	for _, m := range messages {
		dm := debuglog.Message{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			dm.ToolCalls = append(dm.ToolCalls, debuglog.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out.Messages = append(out.Messages, dm)
	}
	for _, td := range toolDefs {
		out.Tools = append(out.Tools, debuglog.Tool{Name: td.Name, Description: td.Description})
	}
	return out
}

// RunDelegate implements tools.DelegateRunner: a nested turn with a
// fresh session key, minimal bootstrap context, and no delegate tool of
// its own, so a subagent can never delegate again. The child shares the
// parent's cancel handle so cancelling the parent cancels the child.
func (e *Engine) RunDelegate(ctx context.Context, description, prompt string) (tools.DelegateResult, error) {
	childRegistry := e.cfg.Registry.Without("delegate")
	child := &Engine{cfg: e.cfg}
	child.cfg.Registry = childRegistry
	child.cfg.Delegate = nil

	// The delegate tool runs inside the parent's tool dispatch, whose ctx
	// was tagged with the parent's own cancel handle by withHandle; the
	// child turn reuses that same handle so cancelling the parent cancels
	// the delegate.
	handle := handleFrom(ctx)
	if handle == nil {
		handle = watchdog.NewCancelHandle()
	}

	sessionKey := "delegate-" + uuid.NewString()
	result, err := child.RunTurn(ctx, TurnInput{
		UserText:       fmt.Sprintf("%s\n\n%s", description, prompt),
		SessionKey:     sessionKey,
		MinimalContext: true,
		CancelHandle:   handle,
	})
	if err != nil {
		return tools.DelegateResult{}, err
	}
	return tools.DelegateResult{Output: result.Response}, nil
}
