package evaluation

import (
	"errors"
	"fmt"
)

var (
	ErrNotPending     = errors.New("evaluation is not pending")
	ErrAlreadyDone    = errors.New("evaluation already finished")
	ErrNotOwned       = errors.New("evaluation is running on another instance")
	ErrRunFatal       = errors.New("run-level failure")
	ErrInvalidRequest = errors.New("invalid request")
)

// Validation codes reported to API clients.
const (
	CodeEmptySelection   = "EMPTY_SELECTION"
	CodeInvalidSelection = "INVALID_SELECTION"
	CodeInvalidPrompt    = "INVALID_PROMPT"
	CodeNoPricing        = "NO_PRICING"
	CodeInvalidPricing   = "INVALID_PRICING"
	CodeProvider         = "PROVIDER_NOT_CONFIGURED"
	CodeMissingReference = "MISSING_REFERENCE"
	CodeInvalidFilter    = "INVALID_FILTER"
)

// ValidationError is a user-facing problem found before a run starts. The run never begins.
type ValidationError struct {
	Code string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %v", e.Code, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(code string, err error) error {
	return &ValidationError{Code: code, Err: err}
}
