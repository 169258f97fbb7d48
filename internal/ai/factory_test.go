package ai_test

import (
	"testing"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aiConfig() config.AIConfig {
	return config.AIConfig{
		OpenAI:    config.OpenAIConfig{APIKey: "sk-test"},
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant-test"},
		Ollama:    config.OllamaConfig{BaseURL: "http://localhost:11434/v1"},
		VLLM:      config.VLLMConfig{BaseURL: "http://localhost:8000/v1"},
	}
}

func TestNewProvider_KnownProviders(t *testing.T) {
	tests := []struct {
		provider string
		model    string
	}{
		{"openai", "gpt-4o"},
		{"anthropic", "claude-sonnet-4-5"},
		{"ollama", "llava"},
		{"vllm", "qwen2-vl"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := ai.NewProvider(aiConfig(), &models.ModelConfig{Provider: tt.provider, ModelName: tt.model})
			require.NoError(t, err)
			assert.Equal(t, tt.provider, p.Name())
			assert.Equal(t, tt.model, p.Model())
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := ai.NewProvider(aiConfig(), &models.ModelConfig{Provider: "gemini", ModelName: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "gemini")
}

func TestNewProvider_MissingModelName(t *testing.T) {
	_, err := ai.NewProvider(aiConfig(), &models.ModelConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ai.ErrProviderNotConfigured)

	_, err = ai.NewProvider(aiConfig(), nil)
	assert.ErrorIs(t, err, ai.ErrProviderNotConfigured)
}

func TestNewProvider_MissingAPIKey(t *testing.T) {
	cfg := aiConfig()
	cfg.OpenAI.APIKey = ""
	cfg.Anthropic.APIKey = ""

	_, err := ai.NewProvider(cfg, &models.ModelConfig{Provider: "openai", ModelName: "gpt-4o"})
	require.ErrorIs(t, err, ai.ErrProviderNotConfigured)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	_, err = ai.NewProvider(cfg, &models.ModelConfig{Provider: "anthropic", ModelName: "claude"})
	require.ErrorIs(t, err, ai.ErrProviderNotConfigured)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestNewProvider_SelfHostedNeedNoKey(t *testing.T) {
	cfg := config.AIConfig{}
	p, err := ai.NewProvider(cfg, &models.ModelConfig{Provider: "ollama", ModelName: "llava"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}
