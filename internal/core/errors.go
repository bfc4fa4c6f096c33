package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrClientInput marks an empty or invalid payload. Never retried.
	ErrClientInput = errors.New("invalid request")
	// ErrResourceUnavailable marks a missing asset the caller can supply (e.g. a reference voice).
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrModelLoad marks a model construction failure with no surviving fallback.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference marks a failure raised by a model during a call.
	ErrInference = errors.New("inference failed")
)

// ClientInputError wraps ErrClientInput with a human-readable reason.
func ClientInputError(reason string) error {
	return fmt.Errorf("%w: %s", ErrClientInput, reason)
}

// ResourceUnavailableError wraps ErrResourceUnavailable with a human-readable reason.
func ResourceUnavailableError(reason string) error {
	return fmt.Errorf("%w: %s", ErrResourceUnavailable, reason)
}

// IsClientFault reports whether err should be surfaced as a 4xx-class failure.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrClientInput) || errors.Is(err, ErrResourceUnavailable)
}
