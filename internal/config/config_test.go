package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_RejectsMissingProviders(t *testing.T) {
	path := writeConfig(t, `{"models": {}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("want error for config with no providers")
	}
}

func TestLoad_BindsProviderShape(t *testing.T) {
	path := writeConfig(t, `{
		"models": {
			"providers": {
				"local": {"baseUrl": "http://localhost:8080/v1", "api": "openai", "models": [{"id": "local-model"}]},
				"anthro": {"apiKey": "sk-test", "api": "anthropic", "models": [{"id": "claude-x", "reasoning": true}]}
			}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Models.Providers) != 2 {
		t.Fatalf("want 2 providers, got %d", len(cfg.Models.Providers))
	}
	if cfg.Models.Providers["anthro"].API != APIAnthropic {
		t.Fatalf("want anthropic dialect, got %q", cfg.Models.Providers["anthro"].API)
	}
	if !cfg.Models.Providers["anthro"].Models[0].Reasoning {
		t.Fatal("want reasoning flag bound true")
	}
}

// defaultOrder prefers a provider named "local" first, then alphabetical.
func TestDefaultOrder_LocalFirst(t *testing.T) {
	providers := map[string]ProviderEntry{
		"zeta":  {},
		"alpha": {},
		"local": {},
	}
	order := defaultOrder(providers)
	if order[0] != "local" {
		t.Fatalf("want local first, got %v", order)
	}
	if order[1] != "alpha" || order[2] != "zeta" {
		t.Fatalf("want alphabetical after local, got %v", order)
	}
}

func TestBuildFallbackChain_UsesExplicitFallbackOrder(t *testing.T) {
	path := writeConfig(t, `{
		"models": {
			"providers": {
				"a": {"baseUrl": "http://a", "api": "openai", "models": [{"id": "m1"}]},
				"b": {"baseUrl": "http://b", "api": "openai", "models": [{"id": "m2"}]}
			},
			"fallbacks": ["b/m2", "a/m1"]
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain, err := BuildFallbackChain(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build chain: %v", err)
	}
	if chain.Name() != "b/m2" {
		t.Fatalf("want b/m2 first per explicit fallbacks order, got %q", chain.Name())
	}
}

func TestBuildFallbackChain_UnknownDialectErrors(t *testing.T) {
	path := writeConfig(t, `{
		"models": {
			"providers": {
				"a": {"baseUrl": "http://a", "api": "carrier-pigeon", "models": [{"id": "m1"}]}
			}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := BuildFallbackChain(context.Background(), cfg); err == nil {
		t.Fatal("want error for unknown api dialect")
	}
}
