package mock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/ai/mock"
	"github.com/kiranshivaraju/visionbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider_Defaults(t *testing.T) {
	p := mock.NewMockProvider()
	assert.Equal(t, "mock", p.Name())
	assert.Equal(t, "mock-v1", p.Model())

	resp, err := p.Invoke(context.Background(), models.InvokeRequest{Prompt: "Is there a cat?"})
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Text)
	assert.Equal(t, 1, p.Calls())
	require.Len(t, p.Requests(), 1)
	assert.Equal(t, "Is there a cat?", p.Requests()[0].Prompt)
}

func TestNewFailingProvider(t *testing.T) {
	want := errors.New("boom")
	p := mock.NewFailingProvider(want)
	_, err := p.Invoke(context.Background(), models.InvokeRequest{})
	assert.ErrorIs(t, err, want)
}

func TestNewFlakyProvider(t *testing.T) {
	p := mock.NewFlakyProvider(2, errors.New("transient"), "false")
	ctx := context.Background()

	_, err := p.Invoke(ctx, models.InvokeRequest{})
	assert.Error(t, err)
	_, err = p.Invoke(ctx, models.InvokeRequest{})
	assert.Error(t, err)
	resp, err := p.Invoke(ctx, models.InvokeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "false", resp.Text)
}

func TestNewTimeoutProvider_RespectsContext(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Invoke(ctx, models.InvokeRequest{})
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
}

func TestMaxInFlight(t *testing.T) {
	p := mock.NewMockProvider()
	p.Delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Invoke(context.Background(), models.InvokeRequest{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, p.Calls())
	assert.LessOrEqual(t, p.MaxInFlight(), 4)
	assert.GreaterOrEqual(t, p.MaxInFlight(), 1)
}
