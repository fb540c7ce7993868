package types

import "github.com/google/uuid"

// TraceID correlates a request across service boundaries and outbound events.
type TraceID string

// UserID identifies the caller on whose behalf an operation runs.
type UserID string

// NewTraceID generates a new unique TraceID.
func NewTraceID() TraceID {
	return TraceID(uuid.NewString())
}

// String returns the string representation of TraceID.
func (t TraceID) String() string {
	return string(t)
}

// IsEmpty checks if the TraceID is empty.
func (t TraceID) IsEmpty() bool {
	return t == ""
}

// String returns the string representation of UserID.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the UserID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}
