package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
// Expiry is honoured by the read and write paths rather than a background
// job alone: records past their TTL are invisible to Get and are overwritten
// by PutIfAbsent, so the purge is pure housekeeping.
type IdempotencyStore struct {
	db Executor
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(db Executor) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

const getIdempotencySQL = `
SELECT key, fingerprint, snapshot, expires_at, created_at
FROM idempotency_records
WHERE key = $1 AND expires_at > $2`

// Get retrieves a live record by key.
// Returns (nil, nil) when no record exists or the stored one has expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRow(ctx, getIdempotencySQL, key, timeToTimestamptz(time.Now().UTC()))
	rec, err := scanIdempotencyRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// The upsert replaces an expired record in place, so an out-of-window replay
// behaves as a fresh first write. A live record wins the conflict and no row
// comes back.
const putIdempotencyIfAbsentSQL = `
INSERT INTO idempotency_records (key, fingerprint, snapshot, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE
SET fingerprint = EXCLUDED.fingerprint,
	snapshot = EXCLUDED.snapshot,
	expires_at = EXCLUDED.expires_at,
	created_at = EXCLUDED.created_at
WHERE idempotency_records.expires_at <= EXCLUDED.created_at
RETURNING key, fingerprint, snapshot, expires_at, created_at`

// PutIfAbsent atomically stores the record unless a live one exists.
// Returns (true, record, nil) when this writer won, or (false, existing, nil)
// when a concurrent first writer did.
func (s *IdempotencyStore) PutIfAbsent(ctx context.Context, record *domain.IdempotencyRecord) (bool, *domain.IdempotencyRecord, error) {
	row := s.db.QueryRow(ctx, putIdempotencyIfAbsentSQL,
		record.Key,
		record.Fingerprint,
		record.Snapshot,
		timeToTimestamptz(record.ExpiresAt),
		timeToTimestamptz(record.CreatedAt),
	)
	stored, err := scanIdempotencyRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// A live record held the key; fetch it for the caller to replay.
		existing, err := s.Get(ctx, record.Key)
		if err != nil {
			return false, nil, err
		}
		if existing == nil {
			// The winner expired between the insert attempt and the read.
			// Treat as a lost race with an unknown snapshot; the caller's
			// own outcome stands.
			return false, record, nil
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, stored, nil
}

const deleteExpiredIdempotencySQL = `
DELETE FROM idempotency_records WHERE expires_at <= $1`

// DeleteExpired removes records whose TTL passed at or before now.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredIdempotencySQL, timeToTimestamptz(now))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanIdempotencyRecord(row pgx.Row) (*domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		expiresAt pgtype.Timestamptz
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&rec.Key, &rec.Fingerprint, &rec.Snapshot, &expiresAt, &createdAt); err != nil {
		return nil, err
	}

	expires, err := timestamptzToTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid expires_at: %v", domain.ErrCorruptData, err)
	}
	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}

	rec.ExpiresAt = expires
	rec.CreatedAt = created
	return &rec, nil
}

// Verify interface implementation.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
