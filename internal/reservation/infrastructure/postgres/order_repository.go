package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// OrderRepository persists Order aggregates using PostgreSQL.
// The unique constraint on reservation_id enforces one order per confirmed
// reservation at the storage level.
type OrderRepository struct {
	db Executor
}

// NewOrderRepository binds the repository to a database handle (pool or tx).
func NewOrderRepository(db Executor) *OrderRepository {
	return &OrderRepository{db: db}
}

const insertOrderSQL = `
INSERT INTO orders (
	id, reservation_id, event_id, user_id, amount, currency,
	status, payment_intent_id, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT DO NOTHING`

// Insert persists a new order.
// Errors: returns domain.ErrAlreadyExists when the reservation already has
// an order (or the order ID is taken).
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	tag, err := r.db.Exec(ctx, insertOrderSQL,
		uuid.UUID(o.ID()),
		uuid.UUID(o.ReservationID()),
		o.EventID(),
		o.UserID().String(),
		decimalToNumeric(o.Amount().Amount),
		o.Amount().Currency,
		string(o.Status()),
		o.PaymentIntentID(),
		timeToTimestamptz(o.CreatedAt()),
		timeToTimestamptz(o.UpdatedAt()),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

const getOrderByReservationSQL = `
SELECT id, reservation_id, event_id, user_id, amount, currency,
	status, payment_intent_id, created_at, updated_at
FROM orders
WHERE reservation_id = $1`

// FindByReservationID retrieves the order created from a reservation.
// Errors: returns domain.ErrOrderNotFound when missing and
// domain.ErrCorruptData when stored values cannot be decoded.
func (r *OrderRepository) FindByReservationID(ctx context.Context, id domain.ReservationID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, getOrderByReservationSQL, uuid.UUID(id))

	var (
		orderID       uuid.UUID
		reservationID uuid.UUID
		eventID       string
		userID        string
		amount        pgtype.Numeric
		currency      string
		status        string
		paymentIntent string
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
	)
	err := row.Scan(&orderID, &reservationID, &eventID, &userID, &amount,
		&currency, &status, &paymentIntent, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	amountDec, err := numericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount: %v", domain.ErrCorruptData, err)
	}
	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	updated, err := timestamptzToTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid updated_at: %v", domain.ErrCorruptData, err)
	}

	return domain.ReconstructOrder(
		domain.OrderID(orderID),
		domain.ReservationID(reservationID),
		eventID,
		types.UserID(userID),
		types.NewMoney(amountDec, currency),
		domain.OrderStatus(status),
		paymentIntent,
		created,
		updated,
	), nil
}

// Verify interface implementation.
var _ domain.OrderRepository = (*OrderRepository)(nil)
