package domain

import (
	"context"
	"time"
)

// ReservationRepository defines the interface for reservation persistence.
type ReservationRepository interface {
	// Insert persists a new reservation.
	// Returns ErrAlreadyExists when a reservation with the same ID exists.
	Insert(ctx context.Context, r *Reservation) error
	// FindByID retrieves a reservation by ID.
	// Returns ErrReservationNotFound when no record exists.
	FindByID(ctx context.Context, id ReservationID) (*Reservation, error)
	// UpdateStatus persists a status transition guarded by the expected
	// current status. Returns ErrPreconditionFailed when the stored status
	// no longer matches expected, so concurrent transitions lose cleanly.
	UpdateStatus(ctx context.Context, r *Reservation, expected ReservationStatus) error
	// ListExpiredHolds retrieves reservations still in HOLD whose deadline
	// passed at or before now, oldest first.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

// OrderRepository defines the interface for order persistence.
type OrderRepository interface {
	// Insert persists a new order.
	// Returns ErrAlreadyExists when an order for the reservation exists.
	Insert(ctx context.Context, o *Order) error
	// FindByReservationID retrieves the order created from a reservation.
	// Returns ErrOrderNotFound when no record exists.
	FindByReservationID(ctx context.Context, id ReservationID) (*Order, error)
}

// IdempotencyRecord represents a stored idempotency record.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Snapshot    []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IdempotencyStore defines the interface for idempotency key storage.
type IdempotencyStore interface {
	// Get retrieves a record by key.
	// Returns (nil, nil) when no record exists; records past their TTL are
	// treated as absent.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// PutIfAbsent atomically stores a record if no live record exists.
	// Returns (true, record, nil) if created, (false, existing, nil) if a
	// record is already present.
	PutIfAbsent(ctx context.Context, record *IdempotencyRecord) (created bool, existing *IdempotencyRecord, err error)
	// DeleteExpired removes records whose TTL passed at or before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// OutboxRepository defines the interface for the outbox pattern.
// Events are written to the outbox within the same transaction as the domain
// changes, then published asynchronously by the drainer.
type OutboxRepository interface {
	// Append adds an event to the outbox.
	Append(ctx context.Context, entry *OutboxEntry) error
	// FetchDue retrieves entries eligible for publishing: PENDING entries,
	// plus FAILED entries under the attempt cap whose retry time has
	// passed. Results are ordered by creation time so events for the same
	// aggregate stay in order.
	FetchDue(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*OutboxEntry, error)
	// Lease transitions an entry to PROCESSING so no other drainer picks
	// it up. Returns ErrPreconditionFailed when the entry is no longer in
	// a leasable state.
	Lease(ctx context.Context, id OutboxID, now time.Time) error
	// MarkPublished transitions a PROCESSING entry to PUBLISHED.
	MarkPublished(ctx context.Context, id OutboxID) error
	// MarkFailed records a failed publish attempt. When nextRetryAt is nil
	// the entry stays FAILED with no retry scheduled.
	MarkFailed(ctx context.Context, id OutboxID, attempts int, lastError string, nextRetryAt *time.Time) error
	// ReleaseStale returns PROCESSING entries leased before the cutoff to
	// PENDING and reports how many were released. This recovers entries
	// stranded by a drainer that died mid-publish.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Repositories provides access to all repositories within a transaction.
// This is used with the Atomic pattern to ensure all operations share the
// same transaction.
type Repositories interface {
	Reservations() ReservationRepository
	Orders() OrderRepository
	IdempotencyKeys() IdempotencyStore
	Outbox() OutboxRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// The service is responsible for requesting an atomic operation with a set of
// procedures defined in the callback. All other concerns like commits and
// rollbacks are left for the datastore to implement.
//
// Example usage:
//
//	err := executor.Atomic(ctx, func(repos Repositories) error {
//	    r, err := repos.Reservations().FindByID(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    if err := r.Confirm(now); err != nil {
//	        return err
//	    }
//	    return repos.Reservations().UpdateStatus(ctx, r, ReservationStatusHold)
//	})
type AtomicExecutor interface {
	// Atomic executes the callback within a database transaction.
	// If the callback returns nil, the transaction is committed.
	// If the callback returns an error, the transaction is rolled back.
	Atomic(ctx context.Context, fn AtomicCallback) error
}
