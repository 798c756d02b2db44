package llm

import (
	"context"
	"sync/atomic"

	"github.com/samsaffron/agentrun/internal/xerrors"
)

// circuitThreshold is the consecutive-failure count beyond which an
// entry is skipped.
const circuitThreshold = 3

// chainEntry pairs a Provider with its atomic failure counter. No
// locking; the counter is a plain atomic integer.
type chainEntry struct {
	name                string
	provider            Provider
	consecutiveFailures atomic.Int64
}

// FallbackChain is an ordered list of providers, each gated by a
// self-healing circuit breaker: one success resets the counter, so
// probing resumes once a provider recovers.
type FallbackChain struct {
	entries []*chainEntry
}

func NewFallbackChain() *FallbackChain { return &FallbackChain{} }

func (c *FallbackChain) Add(name string, p Provider) {
	c.entries = append(c.entries, &chainEntry{name: name, provider: p})
}

// Failures returns the current failure count for name.
func (c *FallbackChain) Failures(name string) int64 {
	for _, e := range c.entries {
		if e.name == name {
			return e.consecutiveFailures.Load()
		}
	}
	return 0
}

func (c *FallbackChain) Name() string {
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[0].name
}

func (c *FallbackChain) run(attempt func(p Provider) (Completion, UsageStats, error)) (Completion, UsageStats, error) {
	var lastErr error
	anySkipped := false
	anyAttempted := false
	for _, e := range c.entries {
		if e.consecutiveFailures.Load() > circuitThreshold {
			anySkipped = true
			continue
		}
		anyAttempted = true
		completion, usage, err := attempt(e.provider)
		if err == nil {
			e.consecutiveFailures.Store(0)
			return completion, usage, nil
		}
		e.consecutiveFailures.Add(1)
		lastErr = err
	}
	if !anyAttempted && anySkipped {
		return Completion{}, UsageStats{}, xerrors.Wrap(xerrors.ErrProviderServer, "all providers exhausted: circuit open on every entry")
	}
	if lastErr == nil {
		return Completion{}, UsageStats{}, xerrors.Wrap(xerrors.ErrProviderServer, "all providers exhausted: empty chain")
	}
	return Completion{}, UsageStats{}, lastErr
}

func (c *FallbackChain) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (Completion, UsageStats, error) {
	return c.run(func(p Provider) (Completion, UsageStats, error) {
		return p.Complete(ctx, messages, tools)
	})
}

func (c *FallbackChain) CompleteStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, sink Sink) (Completion, UsageStats, error) {
	return c.run(func(p Provider) (Completion, UsageStats, error) {
		return p.CompleteStreaming(ctx, messages, tools, sink)
	})
}

var _ Provider = (*chainAsProvider)(nil)

// chainAsProvider lets a FallbackChain itself satisfy Provider (the
// turn engine only ever needs the Provider contract).
type chainAsProvider struct{ *FallbackChain }

func (c *FallbackChain) AsProvider() Provider { return chainAsProvider{c} }
