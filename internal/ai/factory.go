package ai

import (
	"fmt"

	"github.com/kiranshivaraju/visionbench/internal/ai/anthropic"
	"github.com/kiranshivaraju/visionbench/internal/ai/openai"
	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// NewProvider constructs the adapter for a model config. Ollama and vLLM speak
// the OpenAI chat completions protocol and share the openai adapter.
func NewProvider(cfg config.AIConfig, mc *models.ModelConfig) (models.ModelProvider, error) {
	if mc == nil || mc.ModelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrProviderNotConfigured)
	}
	switch mc.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrProviderNotConfigured)
		}
		return openai.NewProvider(openai.Config{
			Name:                "openai",
			BaseURL:             cfg.OpenAI.BaseURL,
			APIKey:              cfg.OpenAI.APIKey,
			Model:               mc.ModelName,
			MaxCompletionTokens: true,
		}), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrProviderNotConfigured)
		}
		return anthropic.NewProvider(anthropic.Config{
			BaseURL: cfg.Anthropic.BaseURL,
			APIKey:  cfg.Anthropic.APIKey,
			Model:   mc.ModelName,
		}), nil
	case "ollama":
		return openai.NewProvider(openai.Config{
			Name:    "ollama",
			BaseURL: cfg.Ollama.BaseURL,
			APIKey:  "ollama",
			Model:   mc.ModelName,
		}), nil
	case "vllm":
		return openai.NewProvider(openai.Config{
			Name:    "vllm",
			BaseURL: cfg.VLLM.BaseURL,
			APIKey:  "vllm",
			Model:   mc.ModelName,
		}), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of openai, anthropic, ollama, vllm", ErrUnknownProvider, mc.Provider)
	}
}
