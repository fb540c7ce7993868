package features

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/api"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/application"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/expiry"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/idempotency"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/memory"
)

// grantingInventory grants every request; the contract suite only cares
// about the HTTP surface, not inventory outcomes.
type grantingInventory struct{}

func (grantingInventory) CheckAvailability(_ context.Context, _ string, quantity int, seatIDs []string) (*domain.AvailabilityResult, error) {
	assigned := seatIDs
	if len(assigned) == 0 {
		for i := 0; i < quantity; i++ {
			assigned = append(assigned, fmt.Sprintf("A-%d", i+1))
		}
	}
	return &domain.AvailabilityResult{Available: true, AssignedSeats: assigned, Remaining: 100}, nil
}

func (grantingInventory) Reserve(_ context.Context, req *domain.ReserveRequest) (*domain.ReserveResult, error) {
	return &domain.ReserveResult{HoldToken: "hold-1", ReservedSeats: req.SeatIDs}, nil
}

func (grantingInventory) CommitReservation(context.Context, *domain.CommitRequest) error { return nil }

func (grantingInventory) ReleaseHold(context.Context, *domain.ReleaseRequest) error { return nil }

type contractState struct {
	server   *httptest.Server
	response *http.Response
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &contractState{}

	sc.Step(`^the service is running$`, state.theServiceIsRunning)
	sc.Step(`^I request the health endpoint$`, state.iRequestTheHealthEndpoint)
	sc.Step(`^I request the health endpoint with trace id "([^"]*)"$`, state.iRequestTheHealthEndpointWithTraceID)
	sc.Step(`^I place a hold without an identity$`, state.iPlaceAHoldWithoutAnIdentity)
	sc.Step(`^the response status should be (\d+)$`, state.theResponseStatusShouldBe)
	sc.Step(`^the error body should carry code "([^"]*)" and a trace id$`, state.theErrorBodyShouldCarryCode)
	sc.Step(`^the response should echo trace id "([^"]*)"$`, state.theResponseShouldEchoTraceID)

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if state.server != nil {
			state.server.Close()
		}
		if state.response != nil {
			state.response.Body.Close()
		}
		return ctx, nil
	})
}

func (s *contractState) theServiceIsRunning() error {
	ds := memory.NewDataStore()
	idem := idempotency.NewManager(ds.IdempotencyKeys(), 5*time.Minute)
	service := application.NewReservationService(ds, grantingInventory{}, idem, expiry.NopScheduler{}, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	api.NewHandler(service).RegisterRoutes(mux)

	s.server = httptest.NewServer(api.RequestContext(600 * time.Millisecond)(mux))
	return nil
}

func (s *contractState) iRequestTheHealthEndpoint() error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	resp, err := http.Get(s.server.URL + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to request health endpoint: %w", err)
	}
	s.response = resp
	return nil
}

func (s *contractState) iRequestTheHealthEndpointWithTraceID(traceID string) error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/healthz", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Trace-ID", traceID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request health endpoint: %w", err)
	}
	s.response = resp
	return nil
}

func (s *contractState) iPlaceAHoldWithoutAnIdentity() error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	body := strings.NewReader(`{"event_id":"evt-2025","quantity":1}`)
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/reservations", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "idem-contract-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to place hold: %w", err)
	}
	s.response = resp
	return nil
}

func (s *contractState) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.response.StatusCode)
	}
	return nil
}

func (s *contractState) theErrorBodyShouldCarryCode(code string) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			TraceID string `json:"trace_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(s.response.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode error body: %w", err)
	}
	if envelope.Error.Code != code {
		return fmt.Errorf("expected code %q, got %q", code, envelope.Error.Code)
	}
	if envelope.Error.TraceID == "" {
		return fmt.Errorf("expected a trace id in the error body")
	}
	return nil
}

func (s *contractState) theResponseShouldEchoTraceID(traceID string) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if got := s.response.Header.Get("X-Trace-ID"); got != traceID {
		return fmt.Errorf("expected trace id %q, got %q", traceID, got)
	}
	return nil
}
