// Package config loads the configuration file that builds the fallback
// chain: a JSON document shaped
// {models: {providers: {<name>: {baseUrl, apiKey, api, models}}, fallbacks?}}.
//
// This is config loading only: no flags, no subcommands, no
// interactive setup wizard.
package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samsaffron/agentrun/internal/llm"
	"github.com/samsaffron/agentrun/internal/xerrors"
	"github.com/spf13/viper"
)

// API tags which wire dialect a provider entry speaks.
type API string

const (
	APIOpenAICompat API = "openai"
	APIAnthropic    API = "anthropic"
	APIBedrock      API = "bedrock"
)

// ModelSpec describes one model a provider entry exposes.
type ModelSpec struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Reasoning     bool   `mapstructure:"reasoning"`
	ContextWindow int    `mapstructure:"contextWindow"`
}

// ProviderEntry is one named entry under models.providers.
type ProviderEntry struct {
	BaseURL string      `mapstructure:"baseUrl"`
	APIKey  string      `mapstructure:"apiKey"`
	API     API         `mapstructure:"api"`
	Models  []ModelSpec `mapstructure:"models"`
}

// ModelsConfig is the `models` top-level key.
type ModelsConfig struct {
	Providers map[string]ProviderEntry `mapstructure:"providers"`
	Fallbacks []string                 `mapstructure:"fallbacks"`
}

// Config is the full bound document.
type Config struct {
	Models ModelsConfig `mapstructure:"models"`
}

// Load reads and binds the JSON config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrConfig, fmt.Sprintf("read config %s: %v", path, err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrConfig, fmt.Sprintf("unmarshal config %s: %v", path, err))
	}
	if cfg.Models.Providers == nil {
		return nil, xerrors.Wrap(xerrors.ErrConfig, "config has no models.providers entries")
	}
	return &cfg, nil
}

// defaultOrder returns provider names in a deterministic local-first
// preference order when models.fallbacks is absent: any
// provider named "local" sorts first, the rest alphabetically.
func defaultOrder(providers map[string]ProviderEntry) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := names[i] == "local", names[j] == "local"
		if li != lj {
			return li
		}
		return names[i] < names[j]
	})
	return names
}

// buildProvider adapts one ProviderEntry into an llm.Provider for
// modelID, dispatching on its API dialect.
func buildProvider(ctx context.Context, name string, entry ProviderEntry, modelID string) (llm.Provider, error) {
	switch entry.API {
	case APIAnthropic:
		return llm.NewAnthropicProvider(entry.APIKey, modelID), nil
	case APIBedrock:
		// bedrock entries carry the AWS region in baseUrl
		return llm.NewBedrockProvider(ctx, entry.BaseURL, modelID)
	case APIOpenAICompat, "":
		return llm.NewOpenAICompatProvider(entry.BaseURL, entry.APIKey, modelID), nil
	default:
		return nil, xerrors.Wrap(xerrors.ErrConfig, fmt.Sprintf("provider %s: unknown api dialect %q", name, entry.API))
	}
}

// BuildFallbackChain constructs the ordered FallbackChain described by
// cfg.Models: entries follow models.fallbacks ("provider/model-id")
// when present, else the default local-first preference order using
// each provider's first listed model.
func BuildFallbackChain(ctx context.Context, cfg *Config) (*llm.FallbackChain, error) {
	chain := llm.NewFallbackChain()

	if len(cfg.Models.Fallbacks) > 0 {
		for _, spec := range cfg.Models.Fallbacks {
			providerName, modelID, ok := strings.Cut(spec, "/")
			if !ok {
				return nil, xerrors.Wrap(xerrors.ErrConfig, fmt.Sprintf("fallback entry %q: want provider/model-id", spec))
			}
			entry, ok := cfg.Models.Providers[providerName]
			if !ok {
				return nil, xerrors.Wrap(xerrors.ErrConfig, fmt.Sprintf("fallback entry %q: unknown provider %q", spec, providerName))
			}
			p, err := buildProvider(ctx, providerName, entry, modelID)
			if err != nil {
				return nil, err
			}
			chain.Add(spec, p)
		}
		return chain, nil
	}

	for _, name := range defaultOrder(cfg.Models.Providers) {
		entry := cfg.Models.Providers[name]
		if len(entry.Models) == 0 {
			continue
		}
		modelID := entry.Models[0].ID
		p, err := buildProvider(ctx, name, entry, modelID)
		if err != nil {
			return nil, err
		}
		chain.Add(name+"/"+modelID, p)
	}
	return chain, nil
}
