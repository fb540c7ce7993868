package domain

import (
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// OutboxEntry is a durable domain event awaiting publication. Entries are
// written in the same transaction as the aggregate mutation they describe;
// the drainer owns every later status change.
type OutboxEntry struct {
	ID          OutboxID
	EventType   string
	AggregateID ReservationID
	Payload     []byte
	Status      OutboxStatus
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
	TraceID     types.TraceID
	CreatedAt   time.Time
	LeasedAt    *time.Time
}

func newOutboxEntry(eventType string, aggregateID ReservationID, payload []byte, traceID types.TraceID) *OutboxEntry {
	return &OutboxEntry{
		ID:          NewOutboxID(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      OutboxStatusPending,
		TraceID:     traceID,
		CreatedAt:   time.Now().UTC(),
	}
}
