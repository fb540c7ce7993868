package domain

// ReservationStatus is the lifecycle state of a reservation.
// HOLD is the only non-terminal status; transitions are monotonic.
type ReservationStatus string

const (
	ReservationStatusHold      ReservationStatus = "HOLD"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationStatusHold
}

// OrderStatus is the lifecycle state of an order. The reservation core only
// creates CONFIRMED orders; the remaining states belong to the order/refund
// lifecycle owned elsewhere.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// OutboxStatus is the publication state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)
