package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Every failure in the pipeline maps onto exactly
// one of these: transient extraction errors are retried, permanent ones
// reject the document, lease and review conflicts are reported to the
// caller, and persistence errors abort the current transition.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrExtractionTransient = errors.New("extraction failed (transient)")
	ErrExtractionPermanent = errors.New("extraction failed (permanent)")
	ErrLeaseHeld           = errors.New("document lease held by another transition")
	ErrStateConflict       = errors.New("document not in expected state")
	ErrReviewConflict      = errors.New("ticket already resolved")
	ErrPersistence         = errors.New("document store write failed")
)

// NewAppError builds an AppError with a stable code for logs and API bodies.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Transient reports whether err should be retried by the extraction loop.
func Transient(err error) bool {
	return errors.Is(err, ErrExtractionTransient)
}
