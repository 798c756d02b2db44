// Command agentrund is a minimal library consumer for internal/engine:
// it loads a config file, builds the provider fallback chain, runs a
// single turn against a workspace/session, and prints the result.
//
// There is deliberately no flag parsing, no subcommands, and no
// interactive setup: front-ends belong to the hosts embedding the
// engine, and this binary stays at "build the chain and run a turn".
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/samsaffron/agentrun/internal/config"
	"github.com/samsaffron/agentrun/internal/engine"
	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/sandbox"
	"github.com/samsaffron/agentrun/internal/session"
	"github.com/samsaffron/agentrun/internal/tools"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agentrund failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("AGENTRUN_CONFIG")
	if configPath == "" {
		return fmt.Errorf("AGENTRUN_CONFIG must point at a models config file")
	}
	workspaceDir := os.Getenv("AGENTRUN_WORKSPACE")
	if workspaceDir == "" {
		workspaceDir = "."
	}
	userText := os.Getenv("AGENTRUN_MESSAGE")
	if userText == "" {
		return fmt.Errorf("AGENTRUN_MESSAGE must hold the user's request")
	}
	agentName := os.Getenv("AGENTRUN_AGENT")
	if agentName == "" {
		agentName = "agentrun"
	}

	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	chain, err := config.BuildFallbackChain(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build fallback chain: %w", err)
	}

	dataDir := os.Getenv("AGENTRUN_DATA_DIR")
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "agentrun")
	}
	store, err := session.Open(filepath.Join(dataDir, agentName+".db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	registry, delegate := tools.NewDefaultRegistry(nil)

	sessionKey := os.Getenv("AGENTRUN_SESSION")
	if sessionKey == "" {
		if key, ok, err := store.LatestSessionKey(ctx, agentName); err == nil && ok {
			sessionKey = key
		} else {
			sessionKey = uuid.NewString()
		}
	}

	e := engine.New(engine.Config{
		Provider:     chain.AsProvider(),
		Registry:     registry,
		Delegate:     delegate,
		Sandbox:      sandbox.Default(),
		Store:        store,
		AgentName:    agentName,
		WorkspaceDir: workspaceDir,
		DebugLogDir:  os.Getenv("AGENTRUN_DEBUG_LOG_DIR"),
	})

	sink := make(chan llm.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sink {
			// A real front-end would render deltas; this library
			// consumer only cares about the final TurnResult.
		}
	}()

	result, err := e.RunTurn(ctx, engine.TurnInput{
		UserText:   userText,
		SessionKey: sessionKey,
		Sink:       sink,
	})
	close(sink)
	<-done
	if err != nil {
		return fmt.Errorf("run turn: %w", err)
	}

	fmt.Println(result.Response)
	slog.Info("turn complete",
		"session", sessionKey,
		"rounds", result.Rounds,
		"tool_calls", result.ToolCalls,
		"total_tokens", result.Usage.TotalTokens,
		"elapsed", result.Elapsed,
	)
	return nil
}
