package inventory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/resilience"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/inventory"
)

func newClient(baseURL string) *inventory.Client {
	return inventory.NewClient(inventory.Config{
		BaseURL:     baseURL,
		CallTimeout: 250 * time.Millisecond,
		Breaker: resilience.BreakerConfig{
			Name:           "inventory-test",
			FailureRate:    0.5,
			WindowSize:     100, // effectively never trips in these tests
			OpenDuration:   time.Second,
			HalfOpenProbes: 1,
		},
	})
}

func TestClient_CheckAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes an available response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/inventory/check" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"available":      true,
				"assigned_seats": []string{"A-1", "A-2"},
				"remaining":      48,
			})
		}))
		defer server.Close()

		result, err := newClient(server.URL).CheckAvailability(ctx, "evt-2025", 2, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !result.Available || len(result.AssignedSeats) != 2 || result.Remaining != 48 {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"available": true, "assigned_seats": []string{"A-1"}})
		}))
		defer server.Close()

		result, err := newClient(server.URL).CheckAvailability(ctx, "evt-2025", 1, []string{"A-1"})
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if !result.Available {
			t.Error("expected availability")
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("classifies a slow upstream as a timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		_, err := newClient(server.URL).CheckAvailability(ctx, "evt-2025", 1, nil)
		if !errs.IsKind(err, errs.KindUpstreamTimeout) {
			t.Errorf("expected UPSTREAM_TIMEOUT, got %v", err)
		}
	})
}

func TestClient_Reserve(t *testing.T) {
	ctx := context.Background()

	reserveReq := &domain.ReserveRequest{
		ReservationID: "res-1",
		EventID:       "evt-2025",
		UserID:        "user-1",
		SeatIDs:       []string{"A-1"},
		Quantity:      1,
		HoldSeconds:   60,
	}

	t.Run("returns the hold token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["reservation_id"] != "res-1" {
				t.Errorf("unexpected reservation_id %v", body["reservation_id"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"hold_token":     "hold-abc",
				"reserved_seats": []string{"A-1"},
			})
		}))
		defer server.Close()

		result, err := newClient(server.URL).Reserve(ctx, reserveReq)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.HoldToken != "hold-abc" {
			t.Errorf("unexpected hold token %q", result.HoldToken)
		}
	})

	t.Run("maps 409 to an inventory conflict", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		_, err := newClient(server.URL).Reserve(ctx, reserveReq)
		if !errs.IsKind(err, errs.KindInventoryConflict) {
			t.Errorf("expected INVENTORY_CONFLICT, got %v", err)
		}
	})

	t.Run("never retries a reserve", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newClient(server.URL).Reserve(ctx, reserveReq)
		if !errs.IsKind(err, errs.KindUpstreamUnavailable) {
			t.Errorf("expected UPSTREAM_UNAVAILABLE, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected a single attempt, got %d", calls.Load())
		}
	})
}

func TestClient_CommitReservation(t *testing.T) {
	ctx := context.Background()

	commitReq := &domain.CommitRequest{
		ReservationID:   "res-1",
		EventID:         "evt-2025",
		SeatIDs:         []string{"A-1"},
		HoldToken:       "hold-abc",
		PaymentIntentID: "pay-1",
	}

	t.Run("maps an expired hold to an inventory conflict", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer server.Close()

		err := newClient(server.URL).CommitReservation(ctx, commitReq)
		if !errs.IsKind(err, errs.KindInventoryConflict) {
			t.Errorf("expected INVENTORY_CONFLICT, got %v", err)
		}
	})

	t.Run("succeeds on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		if err := newClient(server.URL).CommitReservation(ctx, commitReq); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestClient_ReleaseHold(t *testing.T) {
	ctx := context.Background()

	releaseReq := &domain.ReleaseRequest{
		ReservationID: "res-1",
		EventID:       "evt-2025",
		SeatIDs:       []string{"A-1"},
		HoldToken:     "hold-abc",
		Quantity:      1,
	}

	t.Run("tolerates an already released hold", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		if err := newClient(server.URL).ReleaseHold(ctx, releaseReq); err != nil {
			t.Errorf("expected no error on 404, got %v", err)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		if err := newClient(server.URL).ReleaseHold(ctx, releaseReq); err != nil {
			t.Errorf("expected retries to succeed, got %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
	})
}
