// Package events defines the envelope emitted on the bus for every
// reservation state change drained from the outbox.
package events

import (
	"encoding/json"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

// Source is the stable service identifier stamped on every envelope.
const Source = "reservation-api"

// Envelope is the canonical wire shape for outbound domain events.
type Envelope struct {
	Source  string          `json:"source"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Detail  json.RawMessage `json:"detail"`
	TraceID types.TraceID   `json:"trace_id"`
}

// NewEnvelope wraps an already-serialized detail payload.
// Time is normalized to UTC so consumers see ISO-8601 UTC timestamps.
func NewEnvelope(eventType string, occurredAt time.Time, detail []byte, traceID types.TraceID) Envelope {
	return Envelope{
		Source:  Source,
		Type:    eventType,
		Time:    occurredAt.UTC(),
		Detail:  detail,
		TraceID: traceID,
	}
}

// Marshal serializes the envelope for publication.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalDetail decodes the detail payload into the target struct.
func (e Envelope) UnmarshalDetail(target any) error {
	return json.Unmarshal(e.Detail, target)
}
