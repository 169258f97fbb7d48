package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// RetryPolicy bounds how a single logical call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// PolicyFromConfig builds the policy from the AI section of the config.
func PolicyFromConfig(cfg config.AIConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     30 * time.Second,
		CallTimeout:     cfg.InferenceTimeout,
	}
}

// InvokeResult carries the response plus how many attempts it took.
type InvokeResult struct {
	models.InvokeResponse
	Attempts int
}

// Invoke calls the provider with a per-call timeout, retrying transient
// failures with exponential backoff. The returned error is always a
// *models.ProviderError unless ctx itself was cancelled.
func Invoke(ctx context.Context, p models.ModelProvider, req models.InvokeRequest, policy RetryPolicy) (InvokeResult, error) {
	attempts := 0
	op := func() (models.InvokeResponse, error) {
		attempts++
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		}
		defer cancel()

		resp, err := p.Invoke(callCtx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, backoff.Permanent(ctx.Err())
		}
		perr := AsProviderError(p.Name(), err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && perr.Kind != models.ProviderErrorTimeout {
			perr = &models.ProviderError{Provider: p.Name(), Kind: models.ProviderErrorTimeout, Retryable: true, Err: err}
		}
		if !perr.Retryable {
			return resp, backoff.Permanent(perr)
		}
		slog.Debug("provider call failed, will retry",
			"provider", p.Name(), "model", p.Model(), "attempt", attempts, "error", perr)
		return resp, perr
	}

	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return InvokeResult{Attempts: attempts}, ctx.Err()
		}
		return InvokeResult{Attempts: attempts}, AsProviderError(p.Name(), err)
	}
	return InvokeResult{InvokeResponse: resp, Attempts: attempts}, nil
}
