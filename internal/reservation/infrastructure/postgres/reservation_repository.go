package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// ReservationRepository persists Reservation aggregates using PostgreSQL.
// All mutations after the initial insert are conditional on the stored
// status, so concurrent confirm/cancel/expire transitions lose cleanly
// instead of overwriting each other.
type ReservationRepository struct {
	db Executor
}

// NewReservationRepository binds the repository to a database handle (pool or tx).
// Callers control transactional scope by passing a pgx.Tx when participating
// in an atomic operation.
func NewReservationRepository(db Executor) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const insertReservationSQL = `
INSERT INTO reservations (
	id, event_id, user_id, quantity, seat_ids, status,
	hold_expires_at, hold_token, idempotency_key, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

// Insert persists a new reservation.
// Errors: returns domain.ErrAlreadyExists when the ID is taken.
func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	tag, err := r.db.Exec(ctx, insertReservationSQL,
		uuid.UUID(res.ID()),
		res.EventID(),
		res.UserID().String(),
		res.Quantity(),
		res.SeatIDs(),
		string(res.Status()),
		timePtrToTimestamptz(res.HoldExpiresAt()),
		res.HoldToken(),
		res.IdempotencyKey(),
		timeToTimestamptz(res.CreatedAt()),
		timeToTimestamptz(res.UpdatedAt()),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

const getReservationSQL = `
SELECT id, event_id, user_id, quantity, seat_ids, status,
	hold_expires_at, hold_token, idempotency_key, created_at, updated_at
FROM reservations
WHERE id = $1`

// FindByID retrieves a reservation by ID.
// Errors: returns domain.ErrReservationNotFound when missing and
// domain.ErrCorruptData when stored values cannot be decoded.
func (r *ReservationRepository) FindByID(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	row := r.db.QueryRow(ctx, getReservationSQL, uuid.UUID(id))
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	return res, err
}

const updateReservationStatusSQL = `
UPDATE reservations
SET status = $1, hold_expires_at = $2, updated_at = $3
WHERE id = $4 AND status = $5`

// UpdateStatus persists a status transition guarded by the expected current
// status. Zero affected rows means some other transition won the race.
// Errors: returns domain.ErrPreconditionFailed on a lost race.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, res *domain.Reservation, expected domain.ReservationStatus) error {
	tag, err := r.db.Exec(ctx, updateReservationStatusSQL,
		string(res.Status()),
		timePtrToTimestamptz(res.HoldExpiresAt()),
		timeToTimestamptz(res.UpdatedAt()),
		uuid.UUID(res.ID()),
		string(expected),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPreconditionFailed
	}
	return nil
}

const listExpiredHoldsSQL = `
SELECT id, event_id, user_id, quantity, seat_ids, status,
	hold_expires_at, hold_token, idempotency_key, created_at, updated_at
FROM reservations
WHERE status = 'HOLD' AND hold_expires_at <= $1
ORDER BY hold_expires_at
LIMIT $2`

// ListExpiredHolds retrieves HOLD reservations past their deadline, oldest
// first. Backed by the partial index on (hold_expires_at) WHERE status = 'HOLD'.
func (r *ReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	rows, err := r.db.Query(ctx, listExpiredHoldsSQL, timeToTimestamptz(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, res)
	}
	return due, rows.Err()
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		id            uuid.UUID
		eventID       string
		userID        string
		quantity      int
		seatIDs       []string
		status        string
		holdExpiresAt pgtype.Timestamptz
		holdToken     string
		idemKey       string
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &eventID, &userID, &quantity, &seatIDs, &status,
		&holdExpiresAt, &holdToken, &idemKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	expires, err := timestamptzToTimePtr(holdExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hold_expires_at: %v", domain.ErrCorruptData, err)
	}
	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	updated, err := timestamptzToTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid updated_at: %v", domain.ErrCorruptData, err)
	}

	return domain.ReconstructReservation(
		domain.ReservationID(id),
		eventID,
		types.UserID(userID),
		quantity,
		seatIDs,
		domain.ReservationStatus(status),
		expires,
		holdToken,
		idemKey,
		created,
		updated,
	), nil
}

// Verify interface implementation.
var _ domain.ReservationRepository = (*ReservationRepository)(nil)
