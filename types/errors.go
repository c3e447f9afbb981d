package types

import (
	"errors"
	"fmt"
)

// Error codes classify failures the engine surfaces to callers.
const (
	// ErrCodeNotFound: the hash is absent on every registered network, or
	// required receipt fields are missing.
	ErrCodeNotFound = "not_found"

	// ErrCodeUpstreamTransient: 429/5xx/network failures that survived the
	// retries. Pricing tiers treat these as a miss and fall through.
	ErrCodeUpstreamTransient = "upstream_transient"

	// ErrCodeUpstreamPermanent: malformed payloads, undecodable logs,
	// non-numeric prices. The affected leg or quote is skipped.
	ErrCodeUpstreamPermanent = "upstream_permanent"

	// ErrCodeConfiguration: a dependent call site is missing required
	// configuration (e.g. no service wallet address). Fails fast.
	ErrCodeConfiguration = "configuration_error"

	// ErrCodeInvalidInput: structurally invalid caller input.
	ErrCodeInvalidInput = "invalid_input"
)

// CoreError is the engine's typed error carrying a stable code.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewCoreError builds a CoreError with an optional wrapped cause.
func NewCoreError(code, message string, cause error) *CoreError {
	return &CoreError{Code: code, Message: message, Err: cause}
}

// ErrTxNotFound is returned when a transaction exists on none of the
// registered networks (or its receipt/block could not be fetched).
var ErrTxNotFound = &CoreError{Code: ErrCodeNotFound, Message: "transaction not found on any registered network"}

// ErrNotConfigured is returned when an operation requires configuration
// that was not provided (e.g. payment verification without a service address).
var ErrNotConfigured = &CoreError{Code: ErrCodeConfiguration, Message: "required configuration missing"}

// ErrorCode extracts the CoreError code from err, or "" if err carries none.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsNotFound reports whether err represents a not-found outcome.
func IsNotFound(err error) bool { return ErrorCode(err) == ErrCodeNotFound }

// IsTransient reports whether err represents an exhausted transient failure.
func IsTransient(err error) bool { return ErrorCode(err) == ErrCodeUpstreamTransient }
