// Package errs defines the kinded error taxonomy shared by all components.
// Lower layers return kinded errors; the application service is the
// classification point and the transport layer maps kinds to status codes.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags an error with its taxonomy class.
type Kind string

// Client faults — surface directly, caller must change the request.
const (
	KindIdempotencyRequired Kind = "IDEMPOTENCY_REQUIRED"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindReservationNotFound Kind = "RESERVATION_NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
)

// Business conflicts — surface directly, never retried locally.
const (
	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
	KindReservationExpired  Kind = "RESERVATION_EXPIRED"
	KindSeatUnavailable     Kind = "SEAT_UNAVAILABLE"
	KindInventoryConflict   Kind = "INVENTORY_CONFLICT"
	KindInvalidState        Kind = "INVALID_STATE"
)

// Transient infrastructure — retryable by the caller.
const (
	KindUpstreamTimeout     Kind = "UPSTREAM_TIMEOUT"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindStoreTransient      Kind = "STORE_TRANSIENT"
)

// KindInternal marks unexpected failures; logged with trace_id, surfaced generically.
const KindInternal Kind = "INTERNAL_ERROR"

// IsTransient reports whether errors of this kind may succeed on retry.
func (k Kind) IsTransient() bool {
	switch k {
	case KindUpstreamTimeout, KindUpstreamUnavailable, KindStoreTransient:
		return true
	}
	return false
}

// IsBusiness reports whether this kind is a deterministic business conflict.
// Business outcomes are cached by the idempotency layer so replays answer identically.
func (k Kind) IsBusiness() bool {
	switch k {
	case KindIdempotencyConflict, KindReservationExpired, KindSeatUnavailable,
		KindInventoryConflict, KindInvalidState:
		return true
	}
	return false
}

// Error is the single tagged error type used across the reservation core.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates a kinded error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error that preserves the underlying cause for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to the errors package.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the kind from an error chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether the error chain carries a transient kind.
func IsTransient(err error) bool {
	return err != nil && KindOf(err).IsTransient()
}
