// Package factory constructs provider clients from configuration.
package factory

import (
	"fmt"

	"briefgen/pkg/config"
	"briefgen/pkg/llm"
	"briefgen/pkg/llm/anthropic"
	"briefgen/pkg/llm/google"
	"briefgen/pkg/llm/ollama"
	"briefgen/pkg/llm/openai"
)

// NewClient builds the raw provider client selected by cfg. Retry is applied
// by the invoker at a higher level, never here.
func NewClient(cfg *config.ProviderConfig) (llm.Client, error) {
	switch cfg.Name {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return anthropic.New(cfg.APIKey, cfg.Model), nil
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return openai.New(cfg.APIKey, cfg.Model), nil
	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("google provider requires an API key")
		}
		return google.New(cfg.APIKey, cfg.Model), nil
	case config.ProviderOllama:
		return ollama.New(cfg.Host, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
