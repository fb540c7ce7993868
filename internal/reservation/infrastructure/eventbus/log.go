package eventbus

import (
	"context"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/events"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
)

// LogPublisher writes envelopes to the structured log instead of a broker.
// Used in development and tests when no AMQP URL is configured.
type LogPublisher struct{}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish logs the envelope. It never fails.
func (p *LogPublisher) Publish(_ context.Context, envelope events.Envelope) error {
	logging.Info("Event published",
		"source", envelope.Source,
		"type", envelope.Type,
		"time", envelope.Time,
		"trace_id", envelope.TraceID.String(),
		"detail", string(envelope.Detail),
	)
	return nil
}
