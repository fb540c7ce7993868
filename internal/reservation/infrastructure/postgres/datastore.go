// Package postgres is the production datastore: four tables, conditional
// writes as the race arbiter, and the Atomic combinator coupling aggregate
// mutations with their outbox rows.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// DataStore bundles the repositories over one connection pool.
type DataStore struct {
	pool             *pgxpool.Pool
	reservationRepo  *ReservationRepository
	orderRepo        *OrderRepository
	idempotencyStore *IdempotencyStore
	outboxRepo       *OutboxRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:             pool,
		reservationRepo:  NewReservationRepository(pool),
		orderRepo:        NewOrderRepository(pool),
		idempotencyStore: NewIdempotencyStore(pool),
		outboxRepo:       NewOutboxRepository(pool),
	}
}

// Reservations returns the reservation repository.
func (ds *DataStore) Reservations() domain.ReservationRepository {
	return ds.reservationRepo
}

// Orders returns the order repository.
func (ds *DataStore) Orders() domain.OrderRepository {
	return ds.orderRepo
}

// IdempotencyKeys returns the idempotency store.
func (ds *DataStore) IdempotencyKeys() domain.IdempotencyStore {
	return ds.idempotencyStore
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// Ping verifies database connectivity; used by the readiness probe.
func (ds *DataStore) Ping(ctx context.Context) error {
	return ds.pool.Ping(ctx)
}

// withTx creates a new DataStore with transactional repositories.
// This is the key to the Atomic pattern - we create new repository instances
// that share the same transaction.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:             ds.pool,
		reservationRepo:  NewReservationRepository(tx),
		orderRepo:        NewOrderRepository(tx),
		idempotencyStore: NewIdempotencyStore(tx),
		outboxRepo:       NewOutboxRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Use defer to handle both errors and panics
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
			}
		} else {
			err = tx.Commit(ctx)
			if err != nil {
				err = fmt.Errorf("commit transaction: %w", err)
			}
		}
	}()

	txDataStore := ds.withTx(tx)
	err = fn(txDataStore)
	return
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
