package ai

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

var (
	ErrProviderUnavailable   = errors.New("ai provider unavailable")
	ErrInferenceTimeout      = errors.New("ai inference timeout")
	ErrInvalidResponse       = errors.New("ai provider returned invalid response")
	ErrUnknownProvider       = errors.New("unknown ai provider")
	ErrProviderNotConfigured = errors.New("ai provider not configured")
)

// AsProviderError normalizes any error returned by a ModelProvider into a
// *models.ProviderError so callers can branch on Kind and Retryable.
func AsProviderError(provider string, err error) *models.ProviderError {
	if err == nil {
		return nil
	}
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrInferenceTimeout):
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorTimeout, Retryable: true, Err: err}
	case errors.Is(err, ErrProviderUnavailable):
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorUnavailable, Retryable: true, Err: err}
	case errors.Is(err, ErrInvalidResponse):
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorInvalidOutput, Err: err}
	default:
		return &models.ProviderError{Provider: provider, Kind: models.ProviderErrorServer, Err: err}
	}
}

// IsRunFatal reports whether a provider failure means no further image can
// succeed. Only rejected credentials qualify; an endpoint that stays
// unreachable through its retries fails just the image being processed.
func IsRunFatal(err error) bool {
	var perr *models.ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Kind == models.ProviderErrorAuth
}
