package domain

import (
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// Order records a confirmed reservation as a sale. The reservation stays the
// source of truth for the hold lifecycle; the order back-references it.
type Order struct {
	id              OrderID
	reservationID   ReservationID
	eventID         string
	userID          types.UserID
	amount          types.Money
	status          OrderStatus
	paymentIntentID string
	createdAt       time.Time
	updatedAt       time.Time
}

// NewOrder creates the order produced by a successful confirmation.
// The amount is carried opaquely from the payment subsystem.
func NewOrder(
	reservationID ReservationID,
	eventID string,
	userID types.UserID,
	amount types.Money,
	paymentIntentID string,
) *Order {
	now := time.Now().UTC()
	return &Order{
		id:              NewOrderID(),
		reservationID:   reservationID,
		eventID:         eventID,
		userID:          userID,
		amount:          amount,
		status:          OrderStatusConfirmed,
		paymentIntentID: paymentIntentID,
		createdAt:       now,
		updatedAt:       now,
	}
}

// ID returns the order identifier.
func (o *Order) ID() OrderID {
	return o.id
}

// ReservationID returns the confirmed reservation this order settles.
func (o *Order) ReservationID() ReservationID {
	return o.reservationID
}

// EventID returns the ticketed event identifier.
func (o *Order) EventID() string {
	return o.eventID
}

// UserID returns the buyer's identity.
func (o *Order) UserID() types.UserID {
	return o.userID
}

// Amount returns the settled amount.
func (o *Order) Amount() types.Money {
	return o.amount
}

// Status returns the order status.
func (o *Order) Status() OrderStatus {
	return o.status
}

// PaymentIntentID returns the payment reference supplied at confirmation.
func (o *Order) PaymentIntentID() string {
	return o.paymentIntentID
}

// CreatedAt returns the creation time.
func (o *Order) CreatedAt() time.Time {
	return o.createdAt
}

// UpdatedAt returns the last mutation time.
func (o *Order) UpdatedAt() time.Time {
	return o.updatedAt
}

// ReconstructOrder rehydrates an Order from persisted state.
func ReconstructOrder(
	id OrderID,
	reservationID ReservationID,
	eventID string,
	userID types.UserID,
	amount types.Money,
	status OrderStatus,
	paymentIntentID string,
	createdAt time.Time,
	updatedAt time.Time,
) *Order {
	return &Order{
		id:              id,
		reservationID:   reservationID,
		eventID:         eventID,
		userID:          userID,
		amount:          amount,
		status:          status,
		paymentIntentID: paymentIntentID,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}
