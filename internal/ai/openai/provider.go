package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/ai/adapter"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultMaxTokens = 1024

// Config holds connection settings for an OpenAI-compatible Chat Completions endpoint.
type Config struct {
	// Name is reported as the provider name: openai, ollama or vllm.
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	// MaxCompletionTokens sends max_completion_tokens instead of the legacy
	// max_tokens, which self-hosted servers still expect.
	MaxCompletionTokens bool
}

// Provider implements models.ModelProvider over Chat Completions with image_url parts.
type Provider struct {
	client openai.Client
	cfg    Config
}

// NewProvider creates an OpenAI-compatible adapter. SDK-level retries are
// disabled; ai.Invoke owns the retry policy.
func NewProvider(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Provider{client: openai.NewClient(opts...), cfg: cfg}
}

func (p *Provider) Name() string  { return p.cfg.Name }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Invoke(ctx context.Context, req models.InvokeRequest) (models.InvokeResponse, error) {
	ctx, span := adapter.StartSpan(ctx, p.Name(), p.cfg.Model, req)
	defer span.End()

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
	if len(req.Image) > 0 {
		dataURL := "data:" + adapter.MediaType(req.MediaType, req.Image) + ";base64," +
			base64.StdEncoding.EncodeToString(req.Image)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    dataURL,
			Detail: "auto",
		}))
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemMessage != "" {
		messages = append(messages, openai.SystemMessage(req.SystemMessage))
	}
	messages = append(messages, openai.UserMessage(parts))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:    p.cfg.Model,
		Messages: messages,
	}
	if p.cfg.MaxCompletionTokens {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	} else {
		params.MaxTokens = openai.Int(maxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := adapter.Since(start)
	if err != nil {
		perr := p.classify(err)
		adapter.RecordError(span, perr)
		return models.InvokeResponse{LatencyMS: latency}, perr
	}

	if len(resp.Choices) == 0 {
		perr := adapter.InvalidOutput(p.Name(), errors.New("response has no choices"))
		adapter.RecordError(span, perr)
		return models.InvokeResponse{LatencyMS: latency}, perr
	}

	choice := resp.Choices[0]
	out := models.InvokeResponse{
		Text:         choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMS:    latency,
	}

	if choice.FinishReason == "content_filter" || choice.Message.Refusal != "" {
		perr := &models.ProviderError{Provider: p.Name(), Kind: models.ProviderErrorContentPolicy,
			Err: fmt.Errorf("response blocked: %s", strings.TrimSpace(choice.Message.Refusal))}
		adapter.RecordError(span, perr)
		return out, perr
	}
	if strings.TrimSpace(out.Text) == "" {
		perr := adapter.InvalidOutput(p.Name(), fmt.Errorf("empty response (finish reason %q)", string(choice.FinishReason)))
		adapter.RecordError(span, perr)
		return out, perr
	}

	adapter.RecordResponse(span, resp.Model, out, string(choice.FinishReason))
	return out, nil
}

func (p *Provider) classify(err error) *models.ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return adapter.ClassifyStatus(p.Name(), apiErr.StatusCode, apiErr.Code, err)
	}
	return adapter.ClassifyTransport(p.Name(), err)
}

var _ models.ModelProvider = (*Provider)(nil)
