package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/visionbench/internal/ai/adapter"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

const defaultMaxTokens = 1024

// Config holds connection settings for the Anthropic Messages API.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Provider implements models.ModelProvider using the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	model  string
}

// NewProvider creates an Anthropic adapter. SDK-level retries are disabled;
// ai.Invoke owns the retry policy.
func NewProvider(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Invoke(ctx context.Context, req models.InvokeRequest) (models.InvokeResponse, error) {
	ctx, span := adapter.StartSpan(ctx, p.Name(), p.model, req)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var blocks []anthropic.ContentBlockParamUnion
	if len(req.Image) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			adapter.MediaType(req.MediaType, req.Image),
			base64.StdEncoding.EncodeToString(req.Image),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.SystemMessage != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemMessage}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := adapter.Since(start)
	if err != nil {
		perr := p.classify(err)
		adapter.RecordError(span, perr)
		return models.InvokeResponse{LatencyMS: latency}, perr
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := models.InvokeResponse{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		LatencyMS:    latency,
	}

	if resp.StopReason == "refusal" {
		perr := &models.ProviderError{Provider: p.Name(), Kind: models.ProviderErrorContentPolicy,
			Err: errors.New("model refused the request")}
		adapter.RecordError(span, perr)
		return out, perr
	}
	if strings.TrimSpace(out.Text) == "" {
		perr := adapter.InvalidOutput(p.Name(), fmt.Errorf("empty response (stop reason %q)", resp.StopReason))
		adapter.RecordError(span, perr)
		return out, perr
	}

	adapter.RecordResponse(span, string(resp.Model), out, string(resp.StopReason))
	return out, nil
}

func (p *Provider) classify(err error) *models.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return adapter.ClassifyStatus(p.Name(), apiErr.StatusCode, "", err)
	}
	return adapter.ClassifyTransport(p.Name(), err)
}

var _ models.ModelProvider = (*Provider)(nil)
