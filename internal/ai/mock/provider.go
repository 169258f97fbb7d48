package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// MockProvider satisfies models.ModelProvider for testing. It records every
// request and tracks the high-water mark of concurrent calls.
type MockProvider struct {
	Name_      string
	Model_     string
	InvokeFunc func(ctx context.Context, req models.InvokeRequest) (models.InvokeResponse, error)
	// Delay is slept before InvokeFunc runs, respecting ctx.
	Delay time.Duration

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu       sync.Mutex
	requests []models.InvokeRequest
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Invoke(ctx context.Context, req models.InvokeRequest) (models.InvokeResponse, error) {
	m.calls.Add(1)
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxInFlight.Load()
		if cur <= prev || m.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return models.InvokeResponse{}, ctx.Err()
		}
	}

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return models.InvokeResponse{Text: "true", InputTokens: 100, OutputTokens: 1, LatencyMS: 1}, nil
}

// Calls returns how many times Invoke ran, retries included.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// MaxInFlight returns the highest number of simultaneous Invoke calls observed.
func (m *MockProvider) MaxInFlight() int { return int(m.maxInFlight.Load()) }

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []models.InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InvokeRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// NewMockProvider returns a MockProvider that answers "true" to every call.
func NewMockProvider() *MockProvider {
	return &MockProvider{Name_: "mock", Model_: "mock-v1"}
}

// NewStaticProvider returns a MockProvider that always answers text.
func NewStaticProvider(text string) *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		InvokeFunc: func(_ context.Context, _ models.InvokeRequest) (models.InvokeResponse, error) {
			return models.InvokeResponse{Text: text, InputTokens: 100, OutputTokens: 1, LatencyMS: 1}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		InvokeFunc: func(_ context.Context, _ models.InvokeRequest) (models.InvokeResponse, error) {
			return models.InvokeResponse{}, err
		},
	}
}

// NewFlakyProvider fails the first n calls with err, then answers text.
func NewFlakyProvider(n int, err error, text string) *MockProvider {
	var failures atomic.Int64
	return &MockProvider{
		Name_:  "mock-flaky",
		Model_: "mock-v1",
		InvokeFunc: func(_ context.Context, _ models.InvokeRequest) (models.InvokeResponse, error) {
			if failures.Add(1) <= int64(n) {
				return models.InvokeResponse{}, err
			}
			return models.InvokeResponse{Text: text, InputTokens: 100, OutputTokens: 1, LatencyMS: 1}, nil
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the call context ends.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		InvokeFunc: func(ctx context.Context, _ models.InvokeRequest) (models.InvokeResponse, error) {
			<-ctx.Done()
			return models.InvokeResponse{}, &models.ProviderError{
				Provider:  "mock-timeout",
				Kind:      models.ProviderErrorTimeout,
				Retryable: true,
				Err:       ai.ErrInferenceTimeout,
			}
		},
	}
}

var _ models.ModelProvider = (*MockProvider)(nil)
