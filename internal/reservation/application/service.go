// Package application implements the reservation lifecycle. It is the
// classification point of the error taxonomy: lower layers raise kinded or
// sentinel errors, and the service maps them, recovers where recovery is
// defined (compensating release), and surfaces the rest.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/idempotency"
)

// confirmExpiryMargin treats holds with less than this much time left as
// already expired at confirm time.
const confirmExpiryMargin = time.Millisecond

// ExpiryScheduler registers hold deadlines with the expiry subsystem.
// Registrations may be lost; the backstop sweeper covers every hold
// regardless, so failures here are benign.
type ExpiryScheduler interface {
	Schedule(ctx context.Context, id domain.ReservationID, fireAt time.Time) error
	Cancel(ctx context.Context, id domain.ReservationID) error
}

// ReservationService implements the application layer for the reservation
// context. It uses the Atomic pattern from Qonto for transaction management.
//
// Key design decisions:
//   - Every aggregate mutation is committed in the same Atomic callback as
//     its outbox row; conditional writes on the current status arbitrate
//     all races, including expiry vs confirm.
//   - Inventory calls happen outside the transaction. A storage failure
//     after a successful reserve triggers a compensating release.
//   - Idempotency wraps each mutating operation; a replay skips inventory
//     and storage entirely and answers from the cached snapshot.
//
// See: https://medium.com/qonto-way/transactions-in-go-hexagonal-architecture-f12c7a817a61
type ReservationService struct {
	dataStore    domain.AtomicExecutor
	repos        domain.Repositories
	inventory    domain.InventoryClient
	idem         *idempotency.Manager
	scheduler    ExpiryScheduler
	holdDuration time.Duration
}

// NewReservationService creates a new ReservationService.
// The dataStore must implement both AtomicExecutor and Repositories interfaces.
func NewReservationService(
	dataStore interface {
		domain.AtomicExecutor
		domain.Repositories
	},
	inventory domain.InventoryClient,
	idem *idempotency.Manager,
	scheduler ExpiryScheduler,
	holdDuration time.Duration,
) *ReservationService {
	return &ReservationService{
		dataStore:    dataStore,
		repos:        dataStore,
		inventory:    inventory,
		idem:         idem,
		scheduler:    scheduler,
		holdDuration: holdDuration,
	}
}

// operationScope is what the idempotency fingerprint covers. Reusing a key
// for a different operation, user, or body is a conflict.
type operationScope struct {
	Operation string `json:"operation"`
	Request   any    `json:"request"`
}

// CreateReservationRequest represents a request to place a hold.
type CreateReservationRequest struct {
	UserID           types.UserID
	IdempotencyKey   string
	EventID          string
	Quantity         int
	SeatIDs          []string
	ReservationToken string
}

// CreateReservationResponse represents the response from placing a hold.
type CreateReservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	Status        string    `json:"status"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

// CreateReservation places a hold on seats for an event.
// This operation:
//   - Checks availability and reserves the seats on inventory
//   - Persists the reservation and its RESERVATION_CREATED event atomically
//   - Registers the hold deadline with the expiry scheduler
//   - Compensates a storage failure by releasing the inventory hold
func (s *ReservationService) CreateReservation(ctx context.Context, req CreateReservationRequest) (*CreateReservationResponse, error) {
	if err := validateCreate(req); err != nil {
		return nil, s.fail(err)
	}

	scope := operationScope{Operation: "create_reservation", Request: req}
	raw, err := s.idem.Execute(ctx, req.IdempotencyKey, scope, func(ctx context.Context) ([]byte, error) {
		resp, err := s.create(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, s.fail(err)
	}

	var resp CreateReservationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, s.fail(errs.Wrap(errs.KindInternal, "decode response snapshot", err))
	}
	return &resp, nil
}

func (s *ReservationService) create(ctx context.Context, req CreateReservationRequest) (*CreateReservationResponse, error) {
	// Check availability
	avail, err := s.inventory.CheckAvailability(ctx, req.EventID, req.Quantity, req.SeatIDs)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, errs.New(errs.KindSeatUnavailable, "requested seats are not available")
	}

	seatIDs := req.SeatIDs
	if len(seatIDs) == 0 {
		seatIDs = avail.AssignedSeats
	}
	if len(seatIDs) != req.Quantity {
		// Inventory admitted the request without enough concrete seats.
		return nil, errs.New(errs.KindSeatUnavailable, "inventory could not assign the requested seats")
	}

	// The ID is generated before the reserve call so inventory can dedupe
	// a re-sent reserve for the same reservation.
	id := domain.NewReservationID()
	holdExpiresAt := time.Now().UTC().Add(s.holdDuration)

	// Reserve on inventory; single-shot, never retried locally
	reserved, err := s.inventory.Reserve(ctx, &domain.ReserveRequest{
		ReservationID: id.String(),
		EventID:       req.EventID,
		UserID:        req.UserID.String(),
		SeatIDs:       seatIDs,
		Quantity:      req.Quantity,
		HoldSeconds:   int(s.holdDuration / time.Second),
	})
	if err != nil {
		return nil, err
	}
	if len(reserved.ReservedSeats) > 0 {
		seatIDs = reserved.ReservedSeats
	}

	reservation := domain.NewReservation(id, req.EventID, req.UserID, req.Quantity, seatIDs, reserved.HoldToken, holdExpiresAt, req.IdempotencyKey)

	// Persist reservation and event in one transaction
	err = s.persistHold(ctx, reservation)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// The generated ID collided with an existing row. Re-key once;
		// the hold stays valid because inventory tracks it by token.
		id = domain.NewReservationID()
		reservation = domain.NewReservation(id, req.EventID, req.UserID, req.Quantity, seatIDs, reserved.HoldToken, holdExpiresAt, req.IdempotencyKey)
		err = s.persistHold(ctx, reservation)
	}
	if err != nil {
		// The hold exists on inventory but nothing committed locally.
		// Release it so the seats do not stay blocked for the full TTL,
		// then surface a transient error the caller can retry; the
		// idempotency layer does not cache it.
		s.releaseBestEffort(ctx, reservation)
		return nil, errs.Wrap(errs.KindStoreTransient, "persist reservation", err)
	}

	if err := s.scheduler.Schedule(ctx, id, holdExpiresAt); err != nil {
		// The sweeper expires the hold regardless.
		logging.WarnContext(ctx, "Failed to schedule expiry",
			"reservation_id", id.String(),
			"error", err,
		)
	}

	metrics.RecordTransition(string(domain.ReservationStatusHold))
	logging.InfoContext(ctx, "Reservation held",
		"reservation_id", id.String(),
		"event_id", req.EventID,
		"quantity", req.Quantity,
		"hold_expires_at", holdExpiresAt,
	)

	return &CreateReservationResponse{
		ReservationID: id.String(),
		Status:        string(domain.ReservationStatusHold),
		HoldExpiresAt: holdExpiresAt,
	}, nil
}

func (s *ReservationService) persistHold(ctx context.Context, reservation *domain.Reservation) error {
	return s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		if err := repos.Reservations().Insert(ctx, reservation); err != nil {
			return err
		}
		entry, err := domain.NewReservationCreatedEntry(reservation, logging.TraceIDFromContext(ctx))
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
}

// GetReservationRequest represents a request to read a reservation.
type GetReservationRequest struct {
	UserID        types.UserID
	ReservationID string
}

// ReservationView is the full reservation state returned to callers.
type ReservationView struct {
	ReservationID string     `json:"reservation_id"`
	EventID       string     `json:"event_id"`
	UserID        string     `json:"user_id"`
	Quantity      int        `json:"quantity"`
	SeatIDs       []string   `json:"seat_ids,omitempty"`
	Status        string     `json:"status"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GetReservation returns the full state of a reservation owned by the caller.
// This is a read-only operation and doesn't use the Atomic pattern.
func (s *ReservationService) GetReservation(ctx context.Context, req GetReservationRequest) (*ReservationView, error) {
	r, err := s.load(ctx, req.ReservationID, req.UserID)
	if err != nil {
		return nil, s.fail(err)
	}
	return newReservationView(r), nil
}

// ConfirmReservationRequest represents a request to turn a hold into an order.
type ConfirmReservationRequest struct {
	UserID          types.UserID
	IdempotencyKey  string
	ReservationID   string
	PaymentIntentID string
	Amount          types.Money
}

// ConfirmReservationResponse represents the response from a confirmation.
type ConfirmReservationResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// ConfirmReservation commits the inventory hold and turns it into an order.
// This operation:
//   - Replays idempotently when the reservation is already confirmed
//   - Expires the hold instead when the deadline has passed
//   - Commits on inventory, then persists CONFIRMED + order + event
//     atomically with a status precondition; a lost race re-reads and
//     answers from the winning state
func (s *ReservationService) ConfirmReservation(ctx context.Context, req ConfirmReservationRequest) (*ConfirmReservationResponse, error) {
	if err := validateConfirm(req); err != nil {
		return nil, s.fail(err)
	}

	scope := operationScope{Operation: "confirm_reservation", Request: req}
	raw, err := s.idem.Execute(ctx, req.IdempotencyKey, scope, func(ctx context.Context) ([]byte, error) {
		resp, err := s.confirm(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, s.fail(err)
	}

	var resp ConfirmReservationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, s.fail(errs.Wrap(errs.KindInternal, "decode response snapshot", err))
	}
	return &resp, nil
}

func (s *ReservationService) confirm(ctx context.Context, req ConfirmReservationRequest) (*ConfirmReservationResponse, error) {
	r, err := s.load(ctx, req.ReservationID, req.UserID)
	if err != nil {
		return nil, err
	}

	switch r.Status() {
	case domain.ReservationStatusConfirmed:
		// Already confirmed; answer with the existing order.
		return s.confirmedResponse(ctx, r.ID())
	case domain.ReservationStatusCancelled, domain.ReservationStatusExpired:
		return nil, errs.Newf(errs.KindReservationExpired, "reservation %s is %s", req.ReservationID, r.Status())
	}

	now := time.Now().UTC()
	if expires := r.HoldExpiresAt(); expires != nil && expires.Sub(now) < confirmExpiryMargin {
		// The deadline has effectively passed; drive the expiry now instead
		// of leaving it to the sweeper. Losing this write is benign.
		s.expireQuietly(ctx, r, "confirm")
		return nil, errs.Newf(errs.KindReservationExpired, "hold on reservation %s has expired", req.ReservationID)
	}

	// Commit on inventory; single-shot, never retried locally
	err = s.inventory.CommitReservation(ctx, &domain.CommitRequest{
		ReservationID:   r.ID().String(),
		EventID:         r.EventID(),
		SeatIDs:         r.SeatIDs(),
		HoldToken:       r.HoldToken(),
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		if errs.IsKind(err, errs.KindInventoryConflict) {
			// Inventory no longer honours the hold, so this reservation
			// can never confirm.
			s.expireQuietly(ctx, r, "confirm")
		}
		return nil, err
	}

	order := domain.NewOrder(r.ID(), r.EventID(), r.UserID(), req.Amount, req.PaymentIntentID)

	// Persist transition, order, and event in one transaction
	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		if err := r.Confirm(now); err != nil {
			return err
		}
		if err := repos.Reservations().UpdateStatus(ctx, r, domain.ReservationStatusHold); err != nil {
			return err
		}
		if err := repos.Orders().Insert(ctx, order); err != nil {
			return err
		}
		entry, err := domain.NewReservationConfirmedEntry(r, order.ID(), logging.TraceIDFromContext(ctx))
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) || errors.Is(err, domain.ErrNotHeld) || errors.Is(err, domain.ErrAlreadyExists) {
			// Lost the race against expiry or a concurrent confirm;
			// re-read and answer from the winning state.
			return s.reclassifyConfirm(ctx, r.ID(), req.ReservationID)
		}
		return nil, errs.Wrap(errs.KindStoreTransient, "persist confirmation", err)
	}

	s.dropSchedule(ctx, r.ID())
	metrics.RecordTransition(string(domain.ReservationStatusConfirmed))
	logging.InfoContext(ctx, "Reservation confirmed",
		"reservation_id", r.ID().String(),
		"order_id", order.ID().String(),
		"payment_intent_id", req.PaymentIntentID,
	)

	return &ConfirmReservationResponse{
		OrderID: order.ID().String(),
		Status:  string(domain.ReservationStatusConfirmed),
	}, nil
}

// CancelReservationRequest represents a request to cancel a hold.
type CancelReservationRequest struct {
	UserID         types.UserID
	IdempotencyKey string
	ReservationID  string
}

// CancelReservationResponse represents the response from a cancellation.
type CancelReservationResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

// CancelReservation releases the hold and marks the reservation CANCELLED.
// Cancelling an already-cancelled reservation replays idempotently; a
// confirmed reservation cannot be cancelled here.
func (s *ReservationService) CancelReservation(ctx context.Context, req CancelReservationRequest) (*CancelReservationResponse, error) {
	if err := validateCancel(req); err != nil {
		return nil, s.fail(err)
	}

	scope := operationScope{Operation: "cancel_reservation", Request: req}
	raw, err := s.idem.Execute(ctx, req.IdempotencyKey, scope, func(ctx context.Context) ([]byte, error) {
		resp, err := s.cancel(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, s.fail(err)
	}

	var resp CancelReservationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, s.fail(errs.Wrap(errs.KindInternal, "decode response snapshot", err))
	}
	return &resp, nil
}

func (s *ReservationService) cancel(ctx context.Context, req CancelReservationRequest) (*CancelReservationResponse, error) {
	r, err := s.load(ctx, req.ReservationID, req.UserID)
	if err != nil {
		return nil, err
	}

	switch r.Status() {
	case domain.ReservationStatusCancelled:
		return &CancelReservationResponse{ReservationID: req.ReservationID, Status: string(domain.ReservationStatusCancelled)}, nil
	case domain.ReservationStatusExpired:
		return nil, errs.Newf(errs.KindReservationExpired, "reservation %s has expired", req.ReservationID)
	case domain.ReservationStatusConfirmed:
		return nil, errs.New(errs.KindInvalidState, "confirmed reservations cannot be cancelled")
	}

	// Release the hold first. When inventory is unreachable the
	// cancellation still goes through and the release rides the outbox.
	var releaseEntry *domain.OutboxEntry
	if err := s.inventory.ReleaseHold(ctx, newReleaseRequest(r)); err != nil {
		if !errs.KindOf(err).IsTransient() {
			return nil, err
		}
		logging.WarnContext(ctx, "Release failed, queueing through outbox",
			"reservation_id", r.ID().String(),
			"error", err,
		)
		releaseEntry, err = domain.NewInventoryReleaseRequestedEntry(r, logging.TraceIDFromContext(ctx))
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "encode release request", err)
		}
	}

	now := time.Now().UTC()
	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		if err := r.Cancel(now); err != nil {
			return err
		}
		if err := repos.Reservations().UpdateStatus(ctx, r, domain.ReservationStatusHold); err != nil {
			return err
		}
		entry, err := domain.NewReservationCancelledEntry(r, logging.TraceIDFromContext(ctx))
		if err != nil {
			return err
		}
		if err := repos.Outbox().Append(ctx, entry); err != nil {
			return err
		}
		if releaseEntry != nil {
			return repos.Outbox().Append(ctx, releaseEntry)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) || errors.Is(err, domain.ErrNotHeld) {
			return s.reclassifyCancel(ctx, r.ID(), req.ReservationID)
		}
		return nil, errs.Wrap(errs.KindStoreTransient, "persist cancellation", err)
	}

	s.dropSchedule(ctx, r.ID())
	metrics.RecordTransition(string(domain.ReservationStatusCancelled))
	logging.InfoContext(ctx, "Reservation cancelled", "reservation_id", r.ID().String())

	return &CancelReservationResponse{ReservationID: req.ReservationID, Status: string(domain.ReservationStatusCancelled)}, nil
}

// ExpireReservation drives a hold past its deadline to EXPIRED. Invoked by
// the expiry timer and the backstop sweeper; duplicate fires are no-ops
// because the conditional write arbitrates.
func (s *ReservationService) ExpireReservation(ctx context.Context, id domain.ReservationID, origin string) error {
	r, err := s.repos.Reservations().FindByID(ctx, id)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, "load reservation", err)
	}
	if r.Status() != domain.ReservationStatusHold {
		return nil
	}
	return s.expire(ctx, r, origin)
}

func (s *ReservationService) expire(ctx context.Context, r *domain.Reservation, origin string) error {
	// Free the seats first. Inventory tolerates releasing an unknown hold
	// and its own TTL is the final backstop.
	s.releaseBestEffort(ctx, r)

	now := time.Now().UTC()
	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		if err := r.Expire(now); err != nil {
			return err
		}
		if err := repos.Reservations().UpdateStatus(ctx, r, domain.ReservationStatusHold); err != nil {
			return err
		}
		entry, err := domain.NewReservationExpiredEntry(r, logging.TraceIDFromContext(ctx))
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if errors.Is(err, domain.ErrPreconditionFailed) || errors.Is(err, domain.ErrNotHeld) {
		// Confirm or cancel won the race; nothing left to do.
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, "persist expiry", err)
	}

	metrics.RecordTransition(string(domain.ReservationStatusExpired))
	metrics.ExpiredHolds.WithLabelValues(origin).Inc()
	logging.InfoContext(ctx, "Reservation expired",
		"reservation_id", r.ID().String(),
		"origin", origin,
	)
	return nil
}

// ListExpiredHolds returns HOLD reservations whose deadline has passed.
func (s *ReservationService) ListExpiredHolds(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	rs, err := s.repos.Reservations().ListExpiredHolds(ctx, time.Now().UTC(), limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "scan expired holds", err)
	}
	return rs, nil
}

// PurgeIdempotencyRecords removes idempotency records past their TTL and
// reports how many were removed.
func (s *ReservationService) PurgeIdempotencyRecords(ctx context.Context) (int, error) {
	n, err := s.repos.IdempotencyKeys().DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, errs.Wrap(errs.KindStoreTransient, "purge idempotency records", err)
	}
	return n, nil
}

// load fetches a reservation and checks that the caller owns it.
func (s *ReservationService) load(ctx context.Context, rawID string, userID types.UserID) (*domain.Reservation, error) {
	id, err := domain.ParseReservationID(rawID)
	if err != nil {
		return nil, errs.New(errs.KindInvalidRequest, "reservation_id is not a valid UUID")
	}
	r, err := s.repos.Reservations().FindByID(ctx, id)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return nil, errs.Newf(errs.KindReservationNotFound, "reservation %s not found", rawID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "load reservation", err)
	}
	if r.UserID() != userID {
		return nil, errs.New(errs.KindForbidden, "reservation belongs to another user")
	}
	return r, nil
}

// reclassifyConfirm re-reads after a lost conditional write and answers from
// the state that won.
func (s *ReservationService) reclassifyConfirm(ctx context.Context, id domain.ReservationID, rawID string) (*ConfirmReservationResponse, error) {
	r, err := s.repos.Reservations().FindByID(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "reload reservation", err)
	}
	if r.Status() == domain.ReservationStatusConfirmed {
		return s.confirmedResponse(ctx, id)
	}
	return nil, errs.Newf(errs.KindReservationExpired, "reservation %s is %s", rawID, r.Status())
}

// reclassifyCancel re-reads after a lost conditional write and answers from
// the state that won.
func (s *ReservationService) reclassifyCancel(ctx context.Context, id domain.ReservationID, rawID string) (*CancelReservationResponse, error) {
	r, err := s.repos.Reservations().FindByID(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "reload reservation", err)
	}
	switch r.Status() {
	case domain.ReservationStatusCancelled:
		return &CancelReservationResponse{ReservationID: rawID, Status: string(domain.ReservationStatusCancelled)}, nil
	case domain.ReservationStatusConfirmed:
		return nil, errs.New(errs.KindInvalidState, "reservation was confirmed concurrently")
	default:
		return nil, errs.Newf(errs.KindReservationExpired, "reservation %s has expired", rawID)
	}
}

// confirmedResponse answers an idempotent confirm from the stored order.
func (s *ReservationService) confirmedResponse(ctx context.Context, id domain.ReservationID) (*ConfirmReservationResponse, error) {
	order, err := s.repos.Orders().FindByReservationID(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, errs.Wrap(errs.KindInternal, "confirmed reservation has no order", err)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "load order", err)
	}
	return &ConfirmReservationResponse{
		OrderID: order.ID().String(),
		Status:  string(domain.ReservationStatusConfirmed),
	}, nil
}

// expireQuietly drives a hold to EXPIRED without surfacing failures; the
// conditional write keeps duplicates harmless and the sweeper is the backstop.
func (s *ReservationService) expireQuietly(ctx context.Context, r *domain.Reservation, origin string) {
	if err := s.expire(ctx, r, origin); err != nil {
		logging.WarnContext(ctx, "Opportunistic expiry failed",
			"reservation_id", r.ID().String(),
			"error", err,
		)
	}
}

// releaseBestEffort frees an inventory hold without failing the caller. The
// request context may already be cancelled or out of budget, so the release
// runs detached with the client's own per-call deadline.
func (s *ReservationService) releaseBestEffort(ctx context.Context, r *domain.Reservation) {
	if err := s.inventory.ReleaseHold(context.WithoutCancel(ctx), newReleaseRequest(r)); err != nil {
		logging.WarnContext(ctx, "Compensating release failed",
			"reservation_id", r.ID().String(),
			"error", err,
		)
	}
}

// dropSchedule removes the expiry timer for a reservation that reached a
// terminal state. A missed removal only costs a harmless no-op fire.
func (s *ReservationService) dropSchedule(ctx context.Context, id domain.ReservationID) {
	if err := s.scheduler.Cancel(ctx, id); err != nil {
		logging.DebugContext(ctx, "Failed to drop expiry schedule",
			"reservation_id", id.String(),
			"error", err,
		)
	}
}

// fail counts a surfaced error by kind.
func (s *ReservationService) fail(err error) error {
	metrics.RecordError(string(errs.KindOf(err)))
	return err
}

func newReleaseRequest(r *domain.Reservation) *domain.ReleaseRequest {
	return &domain.ReleaseRequest{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		SeatIDs:       r.SeatIDs(),
		HoldToken:     r.HoldToken(),
		Quantity:      r.Quantity(),
	}
}

func validateCreate(req CreateReservationRequest) error {
	if req.UserID.IsEmpty() {
		return errs.New(errs.KindInvalidRequest, "caller identity is required")
	}
	if req.EventID == "" {
		return errs.New(errs.KindInvalidRequest, "event_id is required")
	}
	if req.Quantity < 1 || req.Quantity > 10 {
		return errs.Newf(errs.KindInvalidRequest, "quantity must be between 1 and 10, got %d", req.Quantity)
	}
	if len(req.SeatIDs) > 0 && len(req.SeatIDs) != req.Quantity {
		return errs.Newf(errs.KindInvalidRequest, "seat_ids must list exactly %d seats or be empty", req.Quantity)
	}
	return nil
}

func validateConfirm(req ConfirmReservationRequest) error {
	if req.UserID.IsEmpty() {
		return errs.New(errs.KindInvalidRequest, "caller identity is required")
	}
	if req.ReservationID == "" {
		return errs.New(errs.KindInvalidRequest, "reservation_id is required")
	}
	if req.PaymentIntentID == "" {
		return errs.New(errs.KindInvalidRequest, "payment_intent_id is required")
	}
	return nil
}

func validateCancel(req CancelReservationRequest) error {
	if req.UserID.IsEmpty() {
		return errs.New(errs.KindInvalidRequest, "caller identity is required")
	}
	if req.ReservationID == "" {
		return errs.New(errs.KindInvalidRequest, "reservation_id is required")
	}
	return nil
}

func newReservationView(r *domain.Reservation) *ReservationView {
	view := &ReservationView{
		ReservationID: r.ID().String(),
		EventID:       r.EventID(),
		UserID:        r.UserID().String(),
		Quantity:      r.Quantity(),
		SeatIDs:       r.SeatIDs(),
		Status:        string(r.Status()),
		CreatedAt:     r.CreatedAt(),
		UpdatedAt:     r.UpdatedAt(),
	}
	if t := r.HoldExpiresAt(); t != nil {
		expires := *t
		view.HoldExpiresAt = &expires
	}
	return view
}
