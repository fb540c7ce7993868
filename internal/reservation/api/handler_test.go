package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/api"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/application"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/expiry"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/idempotency"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/memory"
)

// stubInventory always succeeds unless an error is injected.
type stubInventory struct {
	checkErr error
}

func (s *stubInventory) CheckAvailability(_ context.Context, _ string, quantity int, seatIDs []string) (*domain.AvailabilityResult, error) {
	if s.checkErr != nil {
		return nil, s.checkErr
	}
	assigned := seatIDs
	if len(assigned) == 0 {
		for i := 0; i < quantity; i++ {
			assigned = append(assigned, fmt.Sprintf("A-%d", i+1))
		}
	}
	return &domain.AvailabilityResult{Available: true, AssignedSeats: assigned, Remaining: 10}, nil
}

func (s *stubInventory) Reserve(_ context.Context, req *domain.ReserveRequest) (*domain.ReserveResult, error) {
	return &domain.ReserveResult{HoldToken: "hold-1", ReservedSeats: req.SeatIDs}, nil
}

func (s *stubInventory) CommitReservation(context.Context, *domain.CommitRequest) error { return nil }

func (s *stubInventory) ReleaseHold(context.Context, *domain.ReleaseRequest) error { return nil }

// HandlerSuite tests HTTP behavior: routing, header handling, and the
// kind-to-status mapping at the boundary.
type HandlerSuite struct {
	suite.Suite
	root      http.Handler
	inventory *stubInventory
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ds := memory.NewDataStore()
	s.inventory = &stubInventory{}
	idem := idempotency.NewManager(ds.IdempotencyKeys(), 5*time.Minute)
	service := application.NewReservationService(ds, s.inventory, idem, expiry.NopScheduler{}, time.Minute)

	mux := http.NewServeMux()
	api.NewHandler(service).RegisterRoutes(mux)
	s.root = api.RequestContext(600 * time.Millisecond)(mux)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		TraceID string `json:"trace_id"`
	} `json:"error"`
}

func (s *HandlerSuite) doRequest(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.root.ServeHTTP(rec, req)
	return rec
}

func ownerHeaders(key string) map[string]string {
	return map[string]string{
		"X-User-ID":       "user-1",
		"Idempotency-Key": key,
	}
}

func createBody() map[string]any {
	return map[string]any{
		"event_id": "evt-2025",
		"quantity": 2,
		"seat_ids": []string{"A-1", "A-2"},
	}
}

func (s *HandlerSuite) createReservation(key string) string {
	rec := s.doRequest(http.MethodPost, "/reservations", createBody(), ownerHeaders(key))
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ReservationID string `json:"reservation_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ReservationID
}

func (s *HandlerSuite) TestCreateReservation() {
	s.Run("places a hold", func() {
		rec := s.doRequest(http.MethodPost, "/reservations", createBody(), ownerHeaders("idem-1"))

		s.Equal(http.StatusCreated, rec.Code)
		var resp struct {
			ReservationID string    `json:"reservation_id"`
			Status        string    `json:"status"`
			HoldExpiresAt time.Time `json:"hold_expires_at"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.NotEmpty(resp.ReservationID)
		s.Equal("HOLD", resp.Status)
		s.True(resp.HoldExpiresAt.After(time.Now()))
		s.NotEmpty(rec.Header().Get("X-Trace-ID"))
	})

	s.Run("missing idempotency key returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/reservations", createBody(), map[string]string{
			"X-User-ID": "user-1",
		})

		s.Equal(http.StatusBadRequest, rec.Code)
		var env errorEnvelope
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
		s.Equal("IDEMPOTENCY_REQUIRED", env.Error.Code)
		s.NotEmpty(env.Error.TraceID)
	})

	s.Run("missing caller identity returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/reservations", createBody(), map[string]string{
			"Idempotency-Key": "idem-2",
		})

		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "INVALID_REQUEST")
	})

	s.Run("malformed body returns 400", func() {
		req := httptest.NewRequest(http.MethodPost, "/reservations", bytes.NewBufferString("{"))
		for k, v := range ownerHeaders("idem-3") {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.root.ServeHTTP(rec, req)

		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("upstream timeout returns 504", func() {
		s.inventory.checkErr = errs.New(errs.KindUpstreamTimeout, "inventory deadline exceeded")
		defer func() { s.inventory.checkErr = nil }()

		rec := s.doRequest(http.MethodPost, "/reservations", createBody(), ownerHeaders("idem-504"))

		s.Equal(http.StatusGatewayTimeout, rec.Code)
		s.Contains(rec.Body.String(), "UPSTREAM_TIMEOUT")
	})
}

func (s *HandlerSuite) TestGetReservation() {
	id := s.createReservation("idem-get")

	s.Run("owner reads full state", func() {
		rec := s.doRequest(http.MethodGet, "/reservations/"+id, nil, map[string]string{
			"X-User-ID": "user-1",
		})

		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"status":"HOLD"`)
	})

	s.Run("another user gets 403", func() {
		rec := s.doRequest(http.MethodGet, "/reservations/"+id, nil, map[string]string{
			"X-User-ID": "intruder",
		})

		s.Equal(http.StatusForbidden, rec.Code)
		s.Contains(rec.Body.String(), "FORBIDDEN")
	})

	s.Run("unknown reservation gets 404", func() {
		rec := s.doRequest(http.MethodGet, "/reservations/00000000-0000-0000-0000-000000000009", nil, map[string]string{
			"X-User-ID": "user-1",
		})

		s.Equal(http.StatusNotFound, rec.Code)
		s.Contains(rec.Body.String(), "RESERVATION_NOT_FOUND")
	})

	s.Run("malformed id gets 400", func() {
		rec := s.doRequest(http.MethodGet, "/reservations/not-a-uuid", nil, map[string]string{
			"X-User-ID": "user-1",
		})

		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestConfirmReservation() {
	s.Run("turns the hold into an order", func() {
		id := s.createReservation("idem-cf1")

		rec := s.doRequest(http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{
			"payment_intent_id": "pay-1",
			"amount":            "50000",
		}, ownerHeaders("idem-cf2"))

		s.Equal(http.StatusOK, rec.Code)
		var resp struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.NotEmpty(resp.OrderID)
		s.Equal("CONFIRMED", resp.Status)
	})

	s.Run("missing payment intent returns 400", func() {
		id := s.createReservation("idem-cf3")

		rec := s.doRequest(http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{}, ownerHeaders("idem-cf4"))

		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "payment_intent_id")
	})

	s.Run("invalid amount returns 400", func() {
		id := s.createReservation("idem-cf5")

		rec := s.doRequest(http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{
			"payment_intent_id": "pay-1",
			"amount":            "fifty",
		}, ownerHeaders("idem-cf6"))

		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestCancelReservation() {
	s.Run("cancels a hold", func() {
		id := s.createReservation("idem-cn1")

		rec := s.doRequest(http.MethodPost, "/reservations/"+id+"/cancel", nil, ownerHeaders("idem-cn2"))

		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"status":"CANCELLED"`)
	})

	s.Run("cancelling a confirmed reservation returns 409", func() {
		id := s.createReservation("idem-cn3")
		confirm := s.doRequest(http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{
			"payment_intent_id": "pay-1",
		}, ownerHeaders("idem-cn4"))
		s.Require().Equal(http.StatusOK, confirm.Code)

		rec := s.doRequest(http.MethodPost, "/reservations/"+id+"/cancel", nil, ownerHeaders("idem-cn5"))

		s.Equal(http.StatusConflict, rec.Code)
		s.Contains(rec.Body.String(), "INVALID_STATE")
	})
}
