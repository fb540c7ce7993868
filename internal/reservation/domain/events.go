package domain

import (
	"encoding/json"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// Event types for the reservation context.
const (
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationConfirmed = "RESERVATION_CONFIRMED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
	EventTypeReservationExpired   = "RESERVATION_EXPIRED"

	// EventTypeInventoryReleaseRequested carries a best-effort seat release
	// through the outbox when the inventory circuit is open.
	EventTypeInventoryReleaseRequested = "INVENTORY_RELEASE_REQUESTED"
)

// ReservationCreatedEvent is emitted when a hold is placed.
type ReservationCreatedEvent struct {
	ReservationID string    `json:"reservation_id"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Quantity      int       `json:"quantity"`
	SeatIDs       []string  `json:"seat_ids"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

// ReservationConfirmedEvent is emitted when a hold becomes an order.
type ReservationConfirmedEvent struct {
	ReservationID string   `json:"reservation_id"`
	EventID       string   `json:"event_id"`
	UserID        string   `json:"user_id"`
	OrderID       string   `json:"order_id"`
	SeatIDs       []string `json:"seat_ids"`
}

// ReservationCancelledEvent is emitted when a hold is cancelled by the caller.
type ReservationCancelledEvent struct {
	ReservationID string `json:"reservation_id"`
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
}

// ReservationExpiredEvent is emitted when a hold passes its deadline.
type ReservationExpiredEvent struct {
	ReservationID string `json:"reservation_id"`
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
}

// InventoryReleaseRequestedEvent asks a downstream worker to free seats the
// core could not release synchronously.
type InventoryReleaseRequestedEvent struct {
	ReservationID string   `json:"reservation_id"`
	EventID       string   `json:"event_id"`
	UserID        string   `json:"user_id"`
	SeatIDs       []string `json:"seat_ids"`
	HoldToken     string   `json:"hold_token"`
	Quantity      int      `json:"quantity"`
}

// NewReservationCreatedEntry creates an outbox entry for RESERVATION_CREATED.
func NewReservationCreatedEntry(r *Reservation, traceID types.TraceID) (*OutboxEntry, error) {
	var expires time.Time
	if r.HoldExpiresAt() != nil {
		expires = *r.HoldExpiresAt()
	}
	event := ReservationCreatedEvent{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
		Quantity:      r.Quantity(),
		SeatIDs:       r.SeatIDs(),
		HoldExpiresAt: expires,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return newOutboxEntry(EventTypeReservationCreated, r.ID(), payload, traceID), nil
}

// NewReservationConfirmedEntry creates an outbox entry for RESERVATION_CONFIRMED.
func NewReservationConfirmedEntry(r *Reservation, orderID OrderID, traceID types.TraceID) (*OutboxEntry, error) {
	event := ReservationConfirmedEvent{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
		OrderID:       orderID.String(),
		SeatIDs:       r.SeatIDs(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return newOutboxEntry(EventTypeReservationConfirmed, r.ID(), payload, traceID), nil
}

// NewReservationCancelledEntry creates an outbox entry for RESERVATION_CANCELLED.
func NewReservationCancelledEntry(r *Reservation, traceID types.TraceID) (*OutboxEntry, error) {
	event := ReservationCancelledEvent{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return newOutboxEntry(EventTypeReservationCancelled, r.ID(), payload, traceID), nil
}

// NewReservationExpiredEntry creates an outbox entry for RESERVATION_EXPIRED.
func NewReservationExpiredEntry(r *Reservation, traceID types.TraceID) (*OutboxEntry, error) {
	event := ReservationExpiredEvent{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return newOutboxEntry(EventTypeReservationExpired, r.ID(), payload, traceID), nil
}

// NewInventoryReleaseRequestedEntry creates an outbox entry asking for an
// asynchronous seat release.
func NewInventoryReleaseRequestedEntry(r *Reservation, traceID types.TraceID) (*OutboxEntry, error) {
	event := InventoryReleaseRequestedEvent{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
		SeatIDs:       r.SeatIDs(),
		HoldToken:     r.HoldToken(),
		Quantity:      r.Quantity(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return newOutboxEntry(EventTypeInventoryReleaseRequested, r.ID(), payload, traceID), nil
}
