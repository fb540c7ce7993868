package domain

import "errors"

// Domain errors for the reservation context. Conditional-write outcomes
// (ErrPreconditionFailed, ErrAlreadyExists) are normal business results that
// callers branch on; everything else bubbles as a storage failure.
var (
	// ErrReservationNotFound is returned when a reservation cannot be found.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrOrderNotFound is returned when an order cannot be found.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPreconditionFailed is returned when a conditional write does not match
	// the expected current status.
	ErrPreconditionFailed = errors.New("conditional write precondition failed")

	// ErrAlreadyExists is returned by put-if-absent writes when a row with the
	// same key already exists.
	ErrAlreadyExists = errors.New("row already exists")

	// ErrNotHeld is returned by aggregate transitions attempted on a
	// reservation that is no longer in HOLD.
	ErrNotHeld = errors.New("reservation is not in HOLD")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in store")
)
