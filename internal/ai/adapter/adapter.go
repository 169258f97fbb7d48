// Package adapter holds helpers shared by the vendor SDK adapters: GenAI
// tracing spans, HTTP status classification and image media types.
package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/visionbench/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("visionbench/ai")

// StartSpan opens a GenAI client span named "{operation} {model}".
func StartSpan(ctx context.Context, provider, model string, req models.InvokeRequest) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.provider.name", provider),
		attribute.String("gen_ai.request.model", model),
		attribute.Int("visionbench.image.bytes", len(req.Image)),
	}
	if req.MaxTokens > 0 {
		attrs = append(attrs, attribute.Int64("gen_ai.request.max_tokens", req.MaxTokens))
	}
	if req.Temperature != nil {
		attrs = append(attrs, attribute.Float64("gen_ai.request.temperature", *req.Temperature))
	}
	return tracer.Start(ctx, "chat "+model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// RecordResponse sets usage attributes on a successful call.
func RecordResponse(span trace.Span, responseModel string, resp models.InvokeResponse, finishReason string) {
	span.SetAttributes(
		attribute.String("gen_ai.response.model", responseModel),
		attribute.Int64("gen_ai.usage.input_tokens", resp.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.OutputTokens),
	)
	if finishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{finishReason}))
	}
}

// RecordError marks the span failed with the classified error kind.
func RecordError(span trace.Span, err *models.ProviderError) {
	span.SetAttributes(attribute.String("error.type", string(err.Kind)))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind))
}

// ClassifyStatus maps an HTTP status plus vendor error code onto a ProviderError.
func ClassifyStatus(provider string, status int, code string, err error) *models.ProviderError {
	perr := &models.ProviderError{Provider: provider, StatusCode: status, Err: err}
	lc := strings.ToLower(code)
	switch {
	case strings.Contains(lc, "content_policy") || strings.Contains(lc, "content_filter"):
		perr.Kind = models.ProviderErrorContentPolicy
	case status == http.StatusTooManyRequests:
		perr.Kind = models.ProviderErrorRateLimit
		perr.Retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		perr.Kind = models.ProviderErrorTimeout
		perr.Retryable = true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		perr.Kind = models.ProviderErrorAuth
	case status >= 500:
		// Anthropic reports overload as 529.
		perr.Kind = models.ProviderErrorServer
		perr.Retryable = true
	default:
		perr.Kind = models.ProviderErrorInvalidRequest
	}
	return perr
}

// ClassifyTransport handles failures that never produced an HTTP response.
func ClassifyTransport(provider string, err error) *models.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorTimeout, Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorTimeout, Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorUnavailable, Err: err}
	}
	return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorUnavailable, Retryable: true, Err: err}
}

// InvalidOutput reports a response that carried no usable text.
func InvalidOutput(provider string, err error) *models.ProviderError {
	return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorInvalidOutput, Err: err}
}

// MediaType returns hint when set, otherwise sniffs the image bytes.
// Vendors accept jpeg, png, gif and webp; anything else is sent as jpeg.
func MediaType(hint string, data []byte) string {
	if hint != "" {
		return hint
	}
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return ct
	default:
		return "image/jpeg"
	}
}

// Since returns elapsed milliseconds.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
