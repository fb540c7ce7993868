package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
//
// Events are written to the outbox within the same transaction as domain
// changes, then published asynchronously by the drainer. Status transitions
// use conditional updates instead of row locks, so replicated drainers skip
// each other's leases cleanly.
type OutboxRepository struct {
	db Executor
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db Executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const insertOutboxSQL = `
INSERT INTO outbox_entries (
	id, event_type, aggregate_id, payload, status, attempts,
	next_retry_at, last_error, trace_id, created_at, leased_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Append adds an event to the outbox as part of the current transaction.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	_, err := r.db.Exec(ctx, insertOutboxSQL,
		uuid.UUID(entry.ID),
		entry.EventType,
		uuid.UUID(entry.AggregateID),
		entry.Payload,
		string(entry.Status),
		entry.Attempts,
		timePtrToTimestamptz(entry.NextRetryAt),
		entry.LastError,
		entry.TraceID.String(),
		timeToTimestamptz(entry.CreatedAt),
		timePtrToTimestamptz(entry.LeasedAt),
	)
	return err
}

const fetchDueOutboxSQL = `
SELECT id, event_type, aggregate_id, payload, status, attempts,
	next_retry_at, last_error, trace_id, created_at, leased_at
FROM outbox_entries
WHERE status = 'PENDING'
	OR (status = 'FAILED' AND attempts < $1 AND next_retry_at <= $2)
ORDER BY created_at
LIMIT $3`

// FetchDue retrieves entries eligible for publishing, oldest first, so
// events for the same aggregate keep their order.
func (r *OutboxRepository) FetchDue(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*domain.OutboxEntry, error) {
	rows, err := r.db.Query(ctx, fetchDueOutboxSQL, maxAttempts, timeToTimestamptz(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.OutboxEntry
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const leaseOutboxSQL = `
UPDATE outbox_entries
SET status = 'PROCESSING', leased_at = $1
WHERE id = $2 AND status IN ('PENDING', 'FAILED')`

// Lease transitions an entry to PROCESSING so no other drainer picks it up.
// Errors: returns domain.ErrPreconditionFailed when another drainer won.
func (r *OutboxRepository) Lease(ctx context.Context, id domain.OutboxID, now time.Time) error {
	tag, err := r.db.Exec(ctx, leaseOutboxSQL, timeToTimestamptz(now), uuid.UUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPreconditionFailed
	}
	return nil
}

const markOutboxPublishedSQL = `
UPDATE outbox_entries
SET status = 'PUBLISHED', leased_at = NULL
WHERE id = $1 AND status = 'PROCESSING'`

// MarkPublished transitions a PROCESSING entry to PUBLISHED (terminal).
func (r *OutboxRepository) MarkPublished(ctx context.Context, id domain.OutboxID) error {
	tag, err := r.db.Exec(ctx, markOutboxPublishedSQL, uuid.UUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPreconditionFailed
	}
	return nil
}

const markOutboxFailedSQL = `
UPDATE outbox_entries
SET status = 'FAILED', attempts = $1, last_error = $2, next_retry_at = $3, leased_at = NULL
WHERE id = $4`

// MarkFailed records a failed publish attempt. A nil nextRetryAt leaves the
// entry terminally FAILED.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id domain.OutboxID, attempts int, lastError string, nextRetryAt *time.Time) error {
	_, err := r.db.Exec(ctx, markOutboxFailedSQL,
		attempts,
		lastError,
		timePtrToTimestamptz(nextRetryAt),
		uuid.UUID(id),
	)
	return err
}

const releaseStaleOutboxSQL = `
UPDATE outbox_entries
SET status = 'PENDING', leased_at = NULL
WHERE status = 'PROCESSING' AND leased_at <= $1`

// ReleaseStale returns PROCESSING entries leased before the cutoff to
// PENDING, recovering rows stranded by a drainer that died mid-publish.
func (r *OutboxRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, releaseStaleOutboxSQL, timeToTimestamptz(cutoff))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanOutboxEntry(row pgx.Row) (*domain.OutboxEntry, error) {
	var (
		id          uuid.UUID
		aggregateID uuid.UUID
		entry       domain.OutboxEntry
		status      string
		traceID     string
		nextRetryAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		leasedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &entry.EventType, &aggregateID, &entry.Payload, &status,
		&entry.Attempts, &nextRetryAt, &entry.LastError, &traceID, &createdAt, &leasedAt); err != nil {
		return nil, err
	}

	nextRetry, err := timestamptzToTimePtr(nextRetryAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid next_retry_at: %v", domain.ErrCorruptData, err)
	}
	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	leased, err := timestamptzToTimePtr(leasedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid leased_at: %v", domain.ErrCorruptData, err)
	}

	entry.ID = domain.OutboxID(id)
	entry.AggregateID = domain.ReservationID(aggregateID)
	entry.Status = domain.OutboxStatus(status)
	entry.TraceID = types.TraceID(traceID)
	entry.NextRetryAt = nextRetry
	entry.CreatedAt = created
	entry.LeasedAt = leased
	return &entry, nil
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
