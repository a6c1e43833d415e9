package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/tsunagu/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// NewProvider builds the provider named in cfg. An empty or "none" provider returns nil, nil:
// discovery then degrades to empty results.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, orDefault(cfg.Model, "gpt-4o-mini"), cfg.BaseURL, cfg.MaxTokens), nil
	case "anthropic", "claude":
		return NewAnthropicClient(cfg.APIKey, orDefault(cfg.Model, "claude-3-5-haiku-latest"), cfg.BaseURL, cfg.MaxTokens), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, orDefault(cfg.Model, "gemini-1.5-flash"), cfg.MaxTokens)
	case "ollama":
		// Ollama serves an OpenAI-compatible API under /v1 and ignores the key.
		baseURL := strings.TrimRight(orDefault(cfg.BaseURL, defaultOllamaURL), "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		return NewOpenAIClient(orDefault(cfg.APIKey, "ollama"), orDefault(cfg.Model, "llama3.1"), baseURL, cfg.MaxTokens), nil
	case "static":
		return &StaticProvider{Response: cfg.Response}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
