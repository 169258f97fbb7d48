package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kiranshivaraju/visionbench/internal/ai/adapter"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		kind      models.ProviderErrorKind
		retryable bool
	}{
		{http.StatusTooManyRequests, "rate_limit_exceeded", models.ProviderErrorRateLimit, true},
		{http.StatusInternalServerError, "", models.ProviderErrorServer, true},
		{529, "overloaded_error", models.ProviderErrorServer, true},
		{http.StatusGatewayTimeout, "", models.ProviderErrorTimeout, true},
		{http.StatusBadRequest, "invalid_request_error", models.ProviderErrorInvalidRequest, false},
		{http.StatusBadRequest, "content_policy_violation", models.ProviderErrorContentPolicy, false},
		{http.StatusUnauthorized, "", models.ProviderErrorAuth, false},
		{http.StatusNotFound, "model_not_found", models.ProviderErrorInvalidRequest, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.code), func(t *testing.T) {
			perr := adapter.ClassifyStatus("openai", tt.status, tt.code, errors.New("boom"))
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, tt.retryable, perr.Retryable)
			assert.Equal(t, tt.status, perr.StatusCode)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransport(t *testing.T) {
	perr := adapter.ClassifyTransport("anthropic", fmt.Errorf("post: %w", context.DeadlineExceeded))
	assert.Equal(t, models.ProviderErrorTimeout, perr.Kind)
	assert.True(t, perr.Retryable)

	perr = adapter.ClassifyTransport("anthropic", timeoutErr{})
	assert.Equal(t, models.ProviderErrorTimeout, perr.Kind)

	perr = adapter.ClassifyTransport("anthropic", errors.New("connection refused"))
	assert.Equal(t, models.ProviderErrorUnavailable, perr.Kind)
	assert.True(t, perr.Retryable)

	perr = adapter.ClassifyTransport("anthropic", context.Canceled)
	assert.False(t, perr.Retryable)
}

func TestMediaType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", adapter.MediaType("", png))
	assert.Equal(t, "image/webp", adapter.MediaType("image/webp", png))
	assert.Equal(t, "image/jpeg", adapter.MediaType("", []byte("not an image")))
}
