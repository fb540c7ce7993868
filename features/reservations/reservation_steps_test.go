package reservations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/application"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/expiry"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/idempotency"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/infrastructure/memory"
)

// featureInventory stands in for the inventory service. It grants every
// hold unless the event is marked sold out, and records releases so
// scenarios can assert compensation happened.
type featureInventory struct {
	mu       sync.Mutex
	soldOut  bool
	released map[string]bool
}

func (f *featureInventory) CheckAvailability(_ context.Context, _ string, quantity int, seatIDs []string) (*domain.AvailabilityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.soldOut {
		return &domain.AvailabilityResult{Available: false}, nil
	}
	assigned := seatIDs
	if len(assigned) == 0 {
		for i := 0; i < quantity; i++ {
			assigned = append(assigned, fmt.Sprintf("A-%d", i+1))
		}
	}
	return &domain.AvailabilityResult{Available: true, AssignedSeats: assigned, Remaining: 100}, nil
}

func (f *featureInventory) Reserve(_ context.Context, req *domain.ReserveRequest) (*domain.ReserveResult, error) {
	return &domain.ReserveResult{HoldToken: "hold-" + req.ReservationID, ReservedSeats: req.SeatIDs}, nil
}

func (f *featureInventory) CommitReservation(context.Context, *domain.CommitRequest) error {
	return nil
}

func (f *featureInventory) ReleaseHold(_ context.Context, req *domain.ReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[req.ReservationID] = true
	return nil
}

type reservationState struct {
	ctx       context.Context
	dataStore *memory.DataStore
	inventory *featureInventory
	service   *application.ReservationService

	userID types.UserID

	createResponses []*application.CreateReservationResponse
	confirmResps    []*application.ConfirmReservationResponse
	reservationID   string
	confirmKey      string
	lastError       error
	createCount     int
}

func InitializeReservationScenario(ctx *godog.ScenarioContext) {
	state := &reservationState{
		ctx:    context.Background(),
		userID: types.UserID("user-1"),
	}

	// Background steps
	ctx.Step(`^a reservation service with a hold window of (-?\d+) seconds$`, state.aReservationServiceWithHoldWindow)
	ctx.Step(`^the event is sold out$`, state.theEventIsSoldOut)

	// Hold steps
	ctx.Step(`^I place a hold for (\d+) seats on event "([^"]*)" with idempotency key "([^"]*)"$`, state.iPlaceAHold)
	ctx.Step(`^I have a hold for (\d+) seats on event "([^"]*)"$`, state.iHaveAHold)
	ctx.Step(`^the reservation status should be "([^"]*)"$`, state.theReservationStatusShouldBe)
	ctx.Step(`^the hold deadline should be in the future$`, state.theHoldDeadlineShouldBeInTheFuture)
	ctx.Step(`^only one reservation should be created$`, state.onlyOneReservationShouldBeCreated)
	ctx.Step(`^both responses should be identical$`, state.bothResponsesShouldBeIdentical)

	// Confirmation steps
	ctx.Step(`^I confirm the reservation with payment intent "([^"]*)"$`, state.iConfirmTheReservation)
	ctx.Step(`^I attempt to confirm the reservation with payment intent "([^"]*)"$`, state.iAttemptToConfirmTheReservation)
	ctx.Step(`^I confirm the reservation again with the same idempotency key$`, state.iConfirmAgainWithTheSameKey)
	ctx.Step(`^an order should exist for the reservation$`, state.anOrderShouldExist)
	ctx.Step(`^both confirmations should return the same order$`, state.bothConfirmationsShouldReturnTheSameOrder)

	// Cancellation steps
	ctx.Step(`^I cancel the reservation$`, state.iCancelTheReservation)
	ctx.Step(`^I attempt to cancel the reservation$`, state.iAttemptToCancelTheReservation)

	// Expiry steps
	ctx.Step(`^the sweeper runs$`, state.theSweeperRuns)
	ctx.Step(`^the inventory hold should be released$`, state.theInventoryHoldShouldBeReleased)

	// Outcome steps
	ctx.Step(`^the request should be declined with code "([^"]*)"$`, state.theRequestShouldBeDeclinedWithCode)
	ctx.Step(`^another user reads the reservation$`, state.anotherUserReadsTheReservation)
}

func (s *reservationState) aReservationServiceWithHoldWindow(seconds int) error {
	s.dataStore = memory.NewDataStore()
	s.inventory = &featureInventory{released: make(map[string]bool)}
	idem := idempotency.NewManager(s.dataStore.IdempotencyKeys(), 5*time.Minute)
	s.service = application.NewReservationService(
		s.dataStore,
		s.inventory,
		idem,
		expiry.NopScheduler{},
		time.Duration(seconds)*time.Second,
	)
	s.createResponses = nil
	s.confirmResps = nil
	s.createCount = 0
	s.lastError = nil
	return nil
}

func (s *reservationState) theEventIsSoldOut() error {
	s.inventory.mu.Lock()
	defer s.inventory.mu.Unlock()
	s.inventory.soldOut = true
	return nil
}

func (s *reservationState) iPlaceAHold(quantity int, eventID, idempotencyKey string) error {
	resp, err := s.service.CreateReservation(s.ctx, application.CreateReservationRequest{
		UserID:         s.userID,
		IdempotencyKey: idempotencyKey,
		EventID:        eventID,
		Quantity:       quantity,
	})

	s.lastError = err
	if err != nil {
		return nil // errors are asserted by later steps
	}

	s.createResponses = append(s.createResponses, resp)
	s.reservationID = resp.ReservationID
	s.createCount++
	return nil
}

func (s *reservationState) iHaveAHold(quantity int, eventID string) error {
	if err := s.iPlaceAHold(quantity, eventID, fmt.Sprintf("setup-%d", s.createCount)); err != nil {
		return err
	}
	if s.lastError != nil {
		return fmt.Errorf("failed to place hold: %w", s.lastError)
	}
	return nil
}

func (s *reservationState) theReservationStatusShouldBe(status string) error {
	if s.reservationID == "" {
		return errors.New("no reservation was created")
	}
	view, err := s.service.GetReservation(s.ctx, application.GetReservationRequest{
		UserID:        s.userID,
		ReservationID: s.reservationID,
	})
	if err != nil {
		return fmt.Errorf("failed to read reservation: %w", err)
	}
	if view.Status != status {
		return fmt.Errorf("expected status %q, got %q", status, view.Status)
	}
	return nil
}

func (s *reservationState) theHoldDeadlineShouldBeInTheFuture() error {
	if len(s.createResponses) == 0 {
		return errors.New("no create response")
	}
	last := s.createResponses[len(s.createResponses)-1]
	if !last.HoldExpiresAt.After(time.Now().UTC()) {
		return fmt.Errorf("expected a future deadline, got %s", last.HoldExpiresAt)
	}
	return nil
}

func (s *reservationState) onlyOneReservationShouldBeCreated() error {
	ids := make(map[string]bool)
	for _, resp := range s.createResponses {
		ids[resp.ReservationID] = true
	}
	if len(ids) != 1 {
		return fmt.Errorf("expected 1 distinct reservation, got %d", len(ids))
	}
	return nil
}

func (s *reservationState) bothResponsesShouldBeIdentical() error {
	if len(s.createResponses) < 2 {
		return fmt.Errorf("expected 2 responses, got %d", len(s.createResponses))
	}
	first, second := s.createResponses[0], s.createResponses[1]
	if first.ReservationID != second.ReservationID ||
		first.Status != second.Status ||
		!first.HoldExpiresAt.Equal(second.HoldExpiresAt) {
		return fmt.Errorf("responses differ: %+v vs %+v", first, second)
	}
	return nil
}

func (s *reservationState) iConfirmTheReservation(paymentIntentID string) error {
	if err := s.confirmReservation(paymentIntentID); err != nil {
		return err
	}
	if s.lastError != nil {
		return fmt.Errorf("expected confirmation to succeed, got: %v", s.lastError)
	}
	return nil
}

func (s *reservationState) iAttemptToConfirmTheReservation(paymentIntentID string) error {
	return s.confirmReservation(paymentIntentID)
}

func (s *reservationState) confirmReservation(paymentIntentID string) error {
	if s.reservationID == "" {
		return errors.New("no reservation to confirm")
	}
	s.confirmKey = "confirm-" + s.reservationID

	resp, err := s.service.ConfirmReservation(s.ctx, application.ConfirmReservationRequest{
		UserID:          s.userID,
		IdempotencyKey:  s.confirmKey,
		ReservationID:   s.reservationID,
		PaymentIntentID: paymentIntentID,
		Amount:          types.NewMoneyFromInt(50000, types.CurrencyKRW),
	})

	s.lastError = err
	if err == nil {
		s.confirmResps = append(s.confirmResps, resp)
	}
	return nil
}

func (s *reservationState) iConfirmAgainWithTheSameKey() error {
	resp, err := s.service.ConfirmReservation(s.ctx, application.ConfirmReservationRequest{
		UserID:          s.userID,
		IdempotencyKey:  s.confirmKey,
		ReservationID:   s.reservationID,
		PaymentIntentID: "pay-1",
		Amount:          types.NewMoneyFromInt(50000, types.CurrencyKRW),
	})
	if err != nil {
		return fmt.Errorf("expected replay to succeed, got: %v", err)
	}
	s.confirmResps = append(s.confirmResps, resp)
	return nil
}

func (s *reservationState) anOrderShouldExist() error {
	id, err := domain.ParseReservationID(s.reservationID)
	if err != nil {
		return err
	}
	if _, err := s.dataStore.Orders().FindByReservationID(s.ctx, id); err != nil {
		return fmt.Errorf("expected an order: %w", err)
	}
	return nil
}

func (s *reservationState) bothConfirmationsShouldReturnTheSameOrder() error {
	if len(s.confirmResps) < 2 {
		return fmt.Errorf("expected 2 confirmations, got %d", len(s.confirmResps))
	}
	if s.confirmResps[0].OrderID != s.confirmResps[1].OrderID {
		return fmt.Errorf("order IDs differ: %s vs %s", s.confirmResps[0].OrderID, s.confirmResps[1].OrderID)
	}
	return nil
}

func (s *reservationState) iCancelTheReservation() error {
	if err := s.cancelReservation(); err != nil {
		return err
	}
	if s.lastError != nil {
		return fmt.Errorf("expected cancellation to succeed, got: %v", s.lastError)
	}
	return nil
}

func (s *reservationState) iAttemptToCancelTheReservation() error {
	return s.cancelReservation()
}

func (s *reservationState) cancelReservation() error {
	if s.reservationID == "" {
		return errors.New("no reservation to cancel")
	}
	_, err := s.service.CancelReservation(s.ctx, application.CancelReservationRequest{
		UserID:         s.userID,
		IdempotencyKey: "cancel-" + s.reservationID,
		ReservationID:  s.reservationID,
	})
	s.lastError = err
	return nil
}

func (s *reservationState) theSweeperRuns() error {
	expiry.NewSweeper(s.service, time.Minute).SweepOnce(s.ctx)
	return nil
}

func (s *reservationState) theInventoryHoldShouldBeReleased() error {
	s.inventory.mu.Lock()
	defer s.inventory.mu.Unlock()
	if !s.inventory.released[s.reservationID] {
		return fmt.Errorf("expected a release for reservation %s", s.reservationID)
	}
	return nil
}

func (s *reservationState) theRequestShouldBeDeclinedWithCode(code string) error {
	if s.lastError == nil {
		return errors.New("expected the request to be declined, but it succeeded")
	}
	if got := string(errs.KindOf(s.lastError)); got != code {
		return fmt.Errorf("expected code %q, got %q (%v)", code, got, s.lastError)
	}
	return nil
}

func (s *reservationState) anotherUserReadsTheReservation() error {
	_, err := s.service.GetReservation(s.ctx, application.GetReservationRequest{
		UserID:        types.UserID("intruder"),
		ReservationID: s.reservationID,
	})
	s.lastError = err
	return nil
}
