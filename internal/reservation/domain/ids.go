package domain

import "github.com/google/uuid"

// ReservationID uniquely identifies a reservation.
type ReservationID uuid.UUID

// NewReservationID generates a new ReservationID.
func NewReservationID() ReservationID {
	return ReservationID(uuid.New())
}

// ParseReservationID parses a string into a ReservationID.
func ParseReservationID(s string) (ReservationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ReservationID{}, err
	}
	return ReservationID(id), nil
}

// String returns the string representation.
func (id ReservationID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is the zero value.
func (id ReservationID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// OrderID uniquely identifies an order.
type OrderID uuid.UUID

// NewOrderID generates a new OrderID.
func NewOrderID() OrderID {
	return OrderID(uuid.New())
}

// ParseOrderID parses a string into an OrderID.
func ParseOrderID(s string) (OrderID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OrderID{}, err
	}
	return OrderID(id), nil
}

// String returns the string representation.
func (id OrderID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is the zero value.
func (id OrderID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// OutboxID uniquely identifies an outbox row.
type OutboxID uuid.UUID

// NewOutboxID generates a new OutboxID.
func NewOutboxID() OutboxID {
	return OutboxID(uuid.New())
}

// ParseOutboxID parses a string into an OutboxID.
func ParseOutboxID(s string) (OutboxID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OutboxID{}, err
	}
	return OutboxID(id), nil
}

// String returns the string representation.
func (id OutboxID) String() string {
	return uuid.UUID(id).String()
}
