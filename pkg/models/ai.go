// Package models contains shared data models used across the VisionBench codebase.
package models

import (
	"context"
	"fmt"
)

// ModelProvider is the core interface that all model integrations must implement.
// Callers depend on this interface, never on a vendor SDK.
type ModelProvider interface {
	// Invoke sends one prompt (plus an optional image) and returns the text answer.
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
	// Model returns the model name requests are sent to.
	Model() string
}

// InvokeRequest is the input to a single provider call.
type InvokeRequest struct {
	SystemMessage string
	Prompt        string
	Image         []byte
	MediaType     string // e.g. "image/png"; detected from Image when empty
	Temperature   *float64
	MaxTokens     int64
}

// InvokeResponse is the output of a single provider call.
type InvokeResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
}

// ProviderErrorKind classifies vendor failures.
type ProviderErrorKind string

const (
	ProviderErrorTimeout        ProviderErrorKind = "timeout"
	ProviderErrorRateLimit      ProviderErrorKind = "rate_limit"
	ProviderErrorServer         ProviderErrorKind = "server_error"
	ProviderErrorUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorContentPolicy  ProviderErrorKind = "content_policy"
	ProviderErrorAuth           ProviderErrorKind = "auth"
	ProviderErrorInvalidOutput  ProviderErrorKind = "invalid_output"
)

// ProviderError is returned by adapters for every failed call.
// Retryable errors are retried by the caller with backoff; the rest are recorded as-is.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
