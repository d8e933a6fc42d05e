package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Remote store errors.
var (
	// ErrRemoteUnavailable covers network failure, permission denial and quota errors.
	ErrRemoteUnavailable = errors.New("remote: store unavailable")

	// ErrPayloadTooLarge is returned when a document exceeds the store's size limit.
	ErrPayloadTooLarge = errors.New("remote: payload too large")

	// ErrNotFound is returned when updating a document that does not exist.
	ErrNotFound = errors.New("remote: document not found")

	// ErrTimeout is returned when a remote operation exceeds its deadline.
	ErrTimeout = fmt.Errorf("%w: operation timeout", ErrRemoteUnavailable)

	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrRemoteUnavailable)
)

// IsUnavailable reports whether err means the remote store could not serve the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsPayloadTooLarge reports whether err is a document size rejection.
// Stores that only report size errors as text ("longer than", "too large")
// are recognized as well.
func IsPayloadTooLarge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "longer than") || strings.Contains(msg, "too large")
}

// IsNotFound reports whether err is a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsPayloadTooLarge(err):
		return "payload_too_large"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRemoteUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// WrapError wraps an error with the store name and operation.
func WrapError(err error, store string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("remote %s %s: %w", store, operation, err)
}

// Unavailable marks err as a remote availability failure while keeping its text.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrRemoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
}
