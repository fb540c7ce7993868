package domain

import (
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// Reservation is the primary aggregate: a short-lived seat hold that is
// confirmed into an order, cancelled, or expired. All mutations go through
// conditional writes on the current status, so the store arbitrates races.
type Reservation struct {
	id             ReservationID
	eventID        string
	userID         types.UserID
	quantity       int
	seatIDs        []string
	status         ReservationStatus
	holdExpiresAt  *time.Time
	holdToken      string
	idempotencyKey string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewReservation creates a reservation in HOLD with the seats and hold token
// returned by the inventory reserve. The ID is generated by the caller before
// the reserve call so inventory can dedupe on it.
func NewReservation(
	id ReservationID,
	eventID string,
	userID types.UserID,
	quantity int,
	seatIDs []string,
	holdToken string,
	holdExpiresAt time.Time,
	idempotencyKey string,
) *Reservation {
	now := time.Now().UTC()
	expires := holdExpiresAt.UTC()
	return &Reservation{
		id:             id,
		eventID:        eventID,
		userID:         userID,
		quantity:       quantity,
		seatIDs:        seatIDs,
		status:         ReservationStatusHold,
		holdExpiresAt:  &expires,
		holdToken:      holdToken,
		idempotencyKey: idempotencyKey,
		createdAt:      now,
		updatedAt:      now,
	}
}

// ID returns the reservation identifier.
func (r *Reservation) ID() ReservationID {
	return r.id
}

// EventID returns the ticketed event identifier.
func (r *Reservation) EventID() string {
	return r.eventID
}

// UserID returns the holder's identity.
func (r *Reservation) UserID() types.UserID {
	return r.userID
}

// Quantity returns the number of seats held.
func (r *Reservation) Quantity() int {
	return r.quantity
}

// SeatIDs returns the concrete seats backing the hold.
func (r *Reservation) SeatIDs() []string {
	return r.seatIDs
}

// Status returns the current lifecycle status.
func (r *Reservation) Status() ReservationStatus {
	return r.status
}

// HoldExpiresAt returns the hold deadline; nil once the status is terminal.
func (r *Reservation) HoldExpiresAt() *time.Time {
	return r.holdExpiresAt
}

// HoldToken returns the opaque inventory handle for commit/release.
func (r *Reservation) HoldToken() string {
	return r.holdToken
}

// IdempotencyKey returns the key of the request that created the hold.
func (r *Reservation) IdempotencyKey() string {
	return r.idempotencyKey
}

// CreatedAt returns the creation time.
func (r *Reservation) CreatedAt() time.Time {
	return r.createdAt
}

// UpdatedAt returns the last mutation time.
func (r *Reservation) UpdatedAt() time.Time {
	return r.updatedAt
}

// IsHoldExpired reports whether the hold deadline has elapsed at the given instant.
func (r *Reservation) IsHoldExpired(now time.Time) bool {
	return r.status == ReservationStatusHold && r.holdExpiresAt != nil && !now.Before(*r.holdExpiresAt)
}

// Confirm transitions HOLD → CONFIRMED.
func (r *Reservation) Confirm(now time.Time) error {
	if r.status != ReservationStatusHold {
		return ErrNotHeld
	}
	r.status = ReservationStatusConfirmed
	r.holdExpiresAt = nil
	r.updatedAt = now.UTC()
	return nil
}

// Cancel transitions HOLD → CANCELLED.
func (r *Reservation) Cancel(now time.Time) error {
	if r.status != ReservationStatusHold {
		return ErrNotHeld
	}
	r.status = ReservationStatusCancelled
	r.holdExpiresAt = nil
	r.updatedAt = now.UTC()
	return nil
}

// Expire transitions HOLD → EXPIRED.
func (r *Reservation) Expire(now time.Time) error {
	if r.status != ReservationStatusHold {
		return ErrNotHeld
	}
	r.status = ReservationStatusExpired
	r.holdExpiresAt = nil
	r.updatedAt = now.UTC()
	return nil
}

// ReconstructReservation rehydrates a Reservation from persisted state.
// It bypasses business validation since the data is assumed valid from the store.
func ReconstructReservation(
	id ReservationID,
	eventID string,
	userID types.UserID,
	quantity int,
	seatIDs []string,
	status ReservationStatus,
	holdExpiresAt *time.Time,
	holdToken string,
	idempotencyKey string,
	createdAt time.Time,
	updatedAt time.Time,
) *Reservation {
	return &Reservation{
		id:             id,
		eventID:        eventID,
		userID:         userID,
		quantity:       quantity,
		seatIDs:        seatIDs,
		status:         status,
		holdExpiresAt:  holdExpiresAt,
		holdToken:      holdToken,
		idempotencyKey: idempotencyKey,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}
