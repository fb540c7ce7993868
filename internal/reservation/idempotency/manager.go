// Package idempotency provides exactly-once semantics for mutating
// operations keyed by a caller-supplied idempotency key.
//
// The manager runs outside the storage transaction: the action executes
// first, then the outcome snapshot is stored with put-if-absent semantics.
// A concurrent duplicate that loses the first-writer race discards its own
// result and replays the winner's snapshot.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// Action executes the guarded operation and returns the serialized success
// response. Business errors must carry an errs kind so the manager can cache
// them; transient errors are surfaced without caching.
type Action func(ctx context.Context) ([]byte, error)

// Manager deduplicates mutating operations by idempotency key.
type Manager struct {
	store domain.IdempotencyStore
	ttl   time.Duration
}

// NewManager creates a Manager storing records for the given TTL.
func NewManager(store domain.IdempotencyStore, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Execute runs action at most once for the given key and request.
//
// A replayed call returns the stored outcome byte-for-byte: a cached success
// response, or the same business error the first call produced. Reusing a
// key with a different request fails with IDEMPOTENCY_CONFLICT. Records
// expire after the TTL; an out-of-window replay is treated as a fresh
// request.
func (m *Manager) Execute(ctx context.Context, key string, request any, action Action) ([]byte, error) {
	if key == "" {
		return nil, errs.New(errs.KindIdempotencyRequired, "Idempotency-Key header is required")
	}

	fp, err := fingerprint(request)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "fingerprint request", err)
	}

	existing, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, "read idempotency record", err)
	}
	if existing != nil {
		return m.replay(existing, fp)
	}

	result, actionErr := action(ctx)
	if actionErr != nil && !errs.KindOf(actionErr).IsBusiness() {
		// Transient and unexpected failures are never cached so the caller
		// retries against a clean slate.
		return nil, actionErr
	}

	snap, err := encodeSnapshot(result, actionErr)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode response snapshot", err)
	}

	now := time.Now().UTC()
	created, winner, err := m.store.PutIfAbsent(ctx, &domain.IdempotencyRecord{
		Key:         key,
		Fingerprint: fp,
		Snapshot:    snap,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
	})
	if err != nil {
		// The action's effects are already committed. Surfacing a transient
		// error now would invite a retry that re-executes them, so answer
		// with the computed outcome and leave the window uncached.
		logging.WarnContext(ctx, "Failed to store idempotency record", "key", key, "error", err)
		return result, actionErr
	}
	if !created {
		// Lost the first-writer race. The winner's effects are the ones
		// that stuck; replay their snapshot.
		return m.replay(winner, fp)
	}

	return result, actionErr
}

// replay returns the stored outcome, guarding against key reuse with a
// different request.
func (m *Manager) replay(record *domain.IdempotencyRecord, fp string) ([]byte, error) {
	if record.Fingerprint != fp {
		metrics.IdempotencyConflicts.Inc()
		return nil, errs.New(errs.KindIdempotencyConflict, "idempotency key reused with a different request")
	}
	metrics.IdempotencyReplays.Inc()
	return decodeSnapshot(record.Snapshot)
}

// fingerprint hashes the canonical serialization of the request. Requests
// are structs, so field order is stable across calls.
func fingerprint(request any) (string, error) {
	canonical, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// snapshot is the stored outcome envelope. Either Response is set (success)
// or ErrorCode/ErrorMessage are (business error).
type snapshot struct {
	OK           bool            `json:"ok"`
	Response     json.RawMessage `json:"response,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func encodeSnapshot(result []byte, actionErr error) ([]byte, error) {
	snap := snapshot{OK: actionErr == nil, Response: result}
	if actionErr != nil {
		snap.Response = nil
		snap.ErrorCode = string(errs.KindOf(actionErr))
		var kinded *errs.Error
		if errors.As(actionErr, &kinded) {
			snap.ErrorMessage = kinded.Message
		} else {
			snap.ErrorMessage = actionErr.Error()
		}
	}
	return json.Marshal(snap)
}

func decodeSnapshot(raw []byte) ([]byte, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "decode response snapshot", err)
	}
	if !snap.OK {
		return nil, errs.New(errs.Kind(snap.ErrorCode), snap.ErrorMessage)
	}
	return snap.Response, nil
}
