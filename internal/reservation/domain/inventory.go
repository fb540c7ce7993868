package domain

import "context"

// AvailabilityResult describes what inventory can offer for a request.
type AvailabilityResult struct {
	Available bool
	// AssignedSeats is populated when the caller left seat selection to
	// inventory (quantity-based mode).
	AssignedSeats []string
	Remaining     int
}

// ReserveRequest asks inventory to place a hold on seats.
type ReserveRequest struct {
	ReservationID string
	EventID       string
	UserID        string
	SeatIDs       []string
	Quantity      int
	HoldSeconds   int
}

// ReserveResult carries the hold token and the concrete seats inventory
// granted. ReservedSeats replaces the requested list when inventory assigned
// seats itself.
type ReserveResult struct {
	HoldToken     string
	ReservedSeats []string
}

// CommitRequest asks inventory to permanently allocate held seats.
type CommitRequest struct {
	ReservationID   string
	EventID         string
	SeatIDs         []string
	HoldToken       string
	PaymentIntentID string
}

// ReleaseRequest asks inventory to free held seats.
type ReleaseRequest struct {
	ReservationID string
	EventID       string
	SeatIDs       []string
	HoldToken     string
	Quantity      int
}

// InventoryClient is the outbound port to the inventory service. Inventory
// owns seat-level truth; the reservation core only coordinates holds against
// it. Implementations enforce the per-call deadline and classify failures
// into errs kinds.
type InventoryClient interface {
	// CheckAvailability asks whether the requested seats or quantity can be
	// served. Read-only, so implementations may retry transient failures
	// within the deadline.
	CheckAvailability(ctx context.Context, eventID string, quantity int, seatIDs []string) (*AvailabilityResult, error)
	// Reserve places a hold. Mutating, single-shot: inventory dedupes by
	// reservation_id, but local policy never retries a reserve.
	Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error)
	// CommitReservation permanently allocates held seats. Mutating,
	// single-shot.
	CommitReservation(ctx context.Context, req *CommitRequest) error
	// ReleaseHold frees held seats. Idempotent by hold token, so it may be
	// retried; releasing an already-freed hold is not an error.
	ReleaseHold(ctx context.Context, req *ReleaseRequest) error
}
