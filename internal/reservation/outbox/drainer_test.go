package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/events"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/memory"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/outbox"
)

// fakeSink records published envelopes and can fail on demand.
type fakeSink struct {
	published []events.Envelope
	failures  int
}

func (s *fakeSink) Publish(_ context.Context, envelope events.Envelope) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unreachable")
	}
	s.published = append(s.published, envelope)
	return nil
}

func testConfig() outbox.Config {
	return outbox.Config{
		BatchSize:    50,
		MaxAttempts:  5,
		BackoffBase:  30 * time.Second,
		BackoffCap:   480 * time.Second,
		PollInterval: time.Second,
		LeaseTimeout: 30 * time.Second,
	}
}

func pendingEntry(t *testing.T, store domain.OutboxRepository, eventType string, aggregate domain.ReservationID, at time.Time) *domain.OutboxEntry {
	t.Helper()
	entry := &domain.OutboxEntry{
		ID:          domain.NewOutboxID(),
		EventType:   eventType,
		AggregateID: aggregate,
		Payload:     []byte(`{"reservation_id":"` + aggregate.String() + `"}`),
		Status:      domain.OutboxStatusPending,
		CreatedAt:   at,
	}
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return entry
}

func TestDrainer_DrainOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes pending entries in creation order", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		sink := &fakeSink{}
		drainer := outbox.NewDrainer(store, sink, testConfig())

		now := time.Now().UTC()
		aggregate := domain.NewReservationID()
		pendingEntry(t, store, domain.EventTypeReservationCreated, aggregate, now.Add(-2*time.Second))
		pendingEntry(t, store, domain.EventTypeReservationConfirmed, aggregate, now.Add(-time.Second))

		if err := drainer.DrainOnce(ctx, now); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(sink.published) != 2 {
			t.Fatalf("expected 2 published envelopes, got %d", len(sink.published))
		}
		if sink.published[0].Type != domain.EventTypeReservationCreated ||
			sink.published[1].Type != domain.EventTypeReservationConfirmed {
			t.Errorf("envelopes out of order: %s, %s", sink.published[0].Type, sink.published[1].Type)
		}
		if sink.published[0].Source != events.Source {
			t.Errorf("expected source %q, got %q", events.Source, sink.published[0].Source)
		}
	})

	t.Run("published entries are never re-published", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		sink := &fakeSink{}
		drainer := outbox.NewDrainer(store, sink, testConfig())

		now := time.Now().UTC()
		pendingEntry(t, store, domain.EventTypeReservationCreated, domain.NewReservationID(), now)

		if err := drainer.DrainOnce(ctx, now); err != nil {
			t.Fatalf("first pass failed: %v", err)
		}
		// A restarted drainer must not re-deliver settled rows.
		restarted := outbox.NewDrainer(store, sink, testConfig())
		if err := restarted.DrainOnce(ctx, now.Add(time.Minute)); err != nil {
			t.Fatalf("second pass failed: %v", err)
		}

		if len(sink.published) != 1 {
			t.Errorf("expected 1 published envelope, got %d", len(sink.published))
		}
	})

	t.Run("failed publishes retry with backoff", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		sink := &fakeSink{failures: 1}
		cfg := testConfig()
		drainer := outbox.NewDrainer(store, sink, cfg)

		now := time.Now().UTC()
		pendingEntry(t, store, domain.EventTypeReservationCreated, domain.NewReservationID(), now)

		if err := drainer.DrainOnce(ctx, now); err != nil {
			t.Fatalf("drain pass errored: %v", err)
		}
		if len(sink.published) != 0 {
			t.Fatalf("expected no publish on failure, got %d", len(sink.published))
		}

		// Not due again before the backoff elapses.
		if err := drainer.DrainOnce(ctx, now.Add(time.Second)); err != nil {
			t.Fatalf("drain pass errored: %v", err)
		}
		if len(sink.published) != 0 {
			t.Fatal("entry retried before its backoff elapsed")
		}

		// Due after the base delay.
		if err := drainer.DrainOnce(ctx, now.Add(cfg.BackoffBase+time.Second)); err != nil {
			t.Fatalf("drain pass errored: %v", err)
		}
		if len(sink.published) != 1 {
			t.Errorf("expected retry to publish, got %d", len(sink.published))
		}
	})

	t.Run("entries park as FAILED after max attempts", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		cfg := testConfig()
		cfg.MaxAttempts = 2
		sink := &fakeSink{failures: 10}
		drainer := outbox.NewDrainer(store, sink, cfg)

		now := time.Now().UTC()
		pendingEntry(t, store, domain.EventTypeReservationCreated, domain.NewReservationID(), now)

		at := now
		for i := 0; i < 5; i++ {
			if err := drainer.DrainOnce(ctx, at); err != nil {
				t.Fatalf("drain pass errored: %v", err)
			}
			at = at.Add(cfg.BackoffCap + time.Second)
		}

		// Two attempts consumed the budget; the rest saw nothing due.
		if got := 10 - sink.failures; got != cfg.MaxAttempts {
			t.Errorf("expected %d publish attempts, got %d", cfg.MaxAttempts, got)
		}
	})

	t.Run("a failure blocks later events for the same reservation only", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		sink := &fakeSink{failures: 1}
		drainer := outbox.NewDrainer(store, sink, testConfig())

		now := time.Now().UTC()
		stuck := domain.NewReservationID()
		healthy := domain.NewReservationID()
		pendingEntry(t, store, domain.EventTypeReservationCreated, stuck, now.Add(-3*time.Second))
		pendingEntry(t, store, domain.EventTypeReservationConfirmed, stuck, now.Add(-2*time.Second))
		pendingEntry(t, store, domain.EventTypeReservationCreated, healthy, now.Add(-time.Second))

		if err := drainer.DrainOnce(ctx, now); err != nil {
			t.Fatalf("drain pass errored: %v", err)
		}

		if len(sink.published) != 1 {
			t.Fatalf("expected only the healthy aggregate to publish, got %d", len(sink.published))
		}
		var payload struct {
			ReservationID string `json:"reservation_id"`
		}
		if err := sink.published[0].UnmarshalDetail(&payload); err != nil {
			t.Fatalf("decode detail: %v", err)
		}
		if payload.ReservationID != healthy.String() {
			t.Errorf("expected healthy aggregate %s, got %s", healthy, payload.ReservationID)
		}
	})

	t.Run("recovers leases stranded by a dead drainer", func(t *testing.T) {
		store := memory.NewDataStore().Outbox()
		sink := &fakeSink{}
		cfg := testConfig()
		drainer := outbox.NewDrainer(store, sink, cfg)

		now := time.Now().UTC()
		entry := pendingEntry(t, store, domain.EventTypeReservationCreated, domain.NewReservationID(), now.Add(-time.Minute))

		// Simulate a drainer that leased the row and died.
		if err := store.Lease(ctx, entry.ID, now.Add(-2*cfg.LeaseTimeout)); err != nil {
			t.Fatalf("lease failed: %v", err)
		}

		// Recovery returns the row to PENDING and the same pass delivers it.
		if err := drainer.DrainOnce(ctx, now); err != nil {
			t.Fatalf("drain pass errored: %v", err)
		}
		if len(sink.published) != 1 {
			t.Errorf("expected recovered entry to publish, got %d", len(sink.published))
		}
	})
}
