package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/ai/mock"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) ai.RetryPolicy {
	return ai.RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CallTimeout:     time.Second,
	}
}

func rateLimited() error {
	return &models.ProviderError{Provider: "mock", Kind: models.ProviderErrorRateLimit, StatusCode: 429, Retryable: true, Err: errors.New("slow down")}
}

func TestInvoke_Success(t *testing.T) {
	p := mock.NewStaticProvider("yes")
	res, err := ai.Invoke(context.Background(), p, models.InvokeRequest{Prompt: "q"}, fastPolicy(3))
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, p.Calls())
}

func TestInvoke_RetriesTransientFailures(t *testing.T) {
	p := mock.NewFlakyProvider(2, rateLimited(), "no")
	res, err := ai.Invoke(context.Background(), p, models.InvokeRequest{}, fastPolicy(3))
	require.NoError(t, err)
	assert.Equal(t, "no", res.Text)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, p.Calls())
}

func TestInvoke_GivesUpAfterMaxAttempts(t *testing.T) {
	p := mock.NewFailingProvider(rateLimited())
	res, err := ai.Invoke(context.Background(), p, models.InvokeRequest{}, fastPolicy(3))
	require.Error(t, err)
	assert.Equal(t, 3, res.Attempts)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ProviderErrorRateLimit, perr.Kind)
}

func TestInvoke_PermanentErrorNotRetried(t *testing.T) {
	p := mock.NewFailingProvider(&models.ProviderError{
		Provider: "mock", Kind: models.ProviderErrorContentPolicy, StatusCode: 400, Err: errors.New("blocked"),
	})
	res, err := ai.Invoke(context.Background(), p, models.InvokeRequest{}, fastPolicy(3))
	require.Error(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, p.Calls())

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ProviderErrorContentPolicy, perr.Kind)
	assert.False(t, ai.IsRunFatal(err))
}

func TestInvoke_PlainErrorBecomesProviderError(t *testing.T) {
	p := mock.NewFailingProvider(errors.New("weird"))
	_, err := ai.Invoke(context.Background(), p, models.InvokeRequest{}, fastPolicy(3))

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ProviderErrorServer, perr.Kind)
	assert.Equal(t, 1, p.Calls())
}

func TestInvoke_CallTimeout(t *testing.T) {
	p := mock.NewTimeoutProvider()
	policy := fastPolicy(2)
	policy.CallTimeout = 10 * time.Millisecond

	res, err := ai.Invoke(context.Background(), p, models.InvokeRequest{}, policy)
	require.Error(t, err)
	assert.Equal(t, 2, res.Attempts)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ProviderErrorTimeout, perr.Kind)
}

func TestInvoke_ParentCancelled(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := ai.Invoke(ctx, p, models.InvokeRequest{}, fastPolicy(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRunFatal(t *testing.T) {
	assert.True(t, ai.IsRunFatal(&models.ProviderError{Kind: models.ProviderErrorAuth}))
	assert.False(t, ai.IsRunFatal(&models.ProviderError{Kind: models.ProviderErrorUnavailable, Retryable: true}))
	assert.False(t, ai.IsRunFatal(&models.ProviderError{Kind: models.ProviderErrorRateLimit}))
	assert.False(t, ai.IsRunFatal(errors.New("plain")))
}

func TestAsProviderError(t *testing.T) {
	assert.Nil(t, ai.AsProviderError("x", nil))

	perr := ai.AsProviderError("x", context.DeadlineExceeded)
	assert.Equal(t, models.ProviderErrorTimeout, perr.Kind)
	assert.True(t, perr.Retryable)

	perr = ai.AsProviderError("x", ai.ErrProviderUnavailable)
	assert.Equal(t, models.ProviderErrorUnavailable, perr.Kind)

	perr = ai.AsProviderError("x", ai.ErrInvalidResponse)
	assert.Equal(t, models.ProviderErrorInvalidOutput, perr.Kind)
	assert.False(t, perr.Retryable)
}
