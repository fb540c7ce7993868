// Package inventory is the outbound adapter to the inventory service, which
// owns seat-level truth. Calls ride HTTP JSON under a hard per-call deadline
// capped by the remaining request budget, behind a circuit breaker. Only
// transport failures and 5xx responses count against the breaker; business
// conflicts are normal outcomes.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/metrics"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/resilience"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// Config tunes the inventory client.
type Config struct {
	BaseURL     string
	CallTimeout time.Duration
	Breaker     resilience.BreakerConfig
}

// Client implements domain.InventoryClient over HTTP JSON.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	callTimeout time.Duration

	// Read-only availability checks may retry; release is idempotent by
	// hold token so it gets two retries; reserve and commit are single-shot.
	checkRetry   resilience.Policy
	releaseRetry resilience.Policy
}

// NewClient creates an inventory client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			// The per-call context deadline is the operative bound; this is
			// a safety net against leaked requests.
			Timeout: 2 * cfg.CallTimeout,
		},
		breaker:     resilience.NewBreaker(cfg.Breaker),
		callTimeout: cfg.CallTimeout,
		checkRetry: resilience.Policy{
			MaxAttempts:    3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Retryable:      errs.IsTransient,
		},
		releaseRetry: resilience.Policy{
			MaxAttempts:    3,
			InitialBackoff: 25 * time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
			Retryable:      errs.IsTransient,
		},
	}
}

type checkAvailabilityRequest struct {
	EventID  string   `json:"event_id"`
	Quantity int      `json:"quantity"`
	SeatIDs  []string `json:"seat_ids,omitempty"`
}

type checkAvailabilityResponse struct {
	Available     bool     `json:"available"`
	AssignedSeats []string `json:"assigned_seats"`
	Remaining     int      `json:"remaining"`
}

// CheckAvailability asks whether the requested seats or quantity can be
// served. Read-only, so transient failures are retried within the deadline.
func (c *Client) CheckAvailability(ctx context.Context, eventID string, quantity int, seatIDs []string) (*domain.AvailabilityResult, error) {
	req := checkAvailabilityRequest{EventID: eventID, Quantity: quantity, SeatIDs: seatIDs}

	var out checkAvailabilityResponse
	err := c.checkRetry.Do(ctx, func(ctx context.Context) error {
		status, err := c.post(ctx, "check_availability", "/v1/inventory/check", req, &out)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return unexpectedStatus("check_availability", status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.AvailabilityResult{
		Available:     out.Available,
		AssignedSeats: out.AssignedSeats,
		Remaining:     out.Remaining,
	}, nil
}

type reserveRequest struct {
	ReservationID string   `json:"reservation_id"`
	EventID       string   `json:"event_id"`
	UserID        string   `json:"user_id"`
	SeatIDs       []string `json:"seat_ids"`
	Quantity      int      `json:"quantity"`
	HoldSeconds   int      `json:"hold_seconds"`
}

type reserveResponse struct {
	HoldToken     string   `json:"hold_token"`
	ReservedSeats []string `json:"reserved_seats"`
}

// Reserve places a hold. Mutating and single-shot: inventory dedupes by
// reservation_id, but local policy never re-sends a reserve.
func (c *Client) Reserve(ctx context.Context, req *domain.ReserveRequest) (*domain.ReserveResult, error) {
	body := reserveRequest{
		ReservationID: req.ReservationID,
		EventID:       req.EventID,
		UserID:        req.UserID,
		SeatIDs:       req.SeatIDs,
		Quantity:      req.Quantity,
		HoldSeconds:   req.HoldSeconds,
	}

	var out reserveResponse
	status, err := c.post(ctx, "reserve_seats", "/v1/inventory/reserve", body, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return &domain.ReserveResult{HoldToken: out.HoldToken, ReservedSeats: out.ReservedSeats}, nil
	case http.StatusConflict:
		return nil, errs.New(errs.KindInventoryConflict, "inventory rejected the reserve")
	default:
		return nil, unexpectedStatus("reserve_seats", status)
	}
}

type commitRequest struct {
	ReservationID   string   `json:"reservation_id"`
	EventID         string   `json:"event_id"`
	SeatIDs         []string `json:"seat_ids"`
	HoldToken       string   `json:"hold_token"`
	PaymentIntentID string   `json:"payment_intent_id"`
}

// CommitReservation permanently allocates held seats. Mutating, single-shot.
func (c *Client) CommitReservation(ctx context.Context, req *domain.CommitRequest) error {
	body := commitRequest{
		ReservationID:   req.ReservationID,
		EventID:         req.EventID,
		SeatIDs:         req.SeatIDs,
		HoldToken:       req.HoldToken,
		PaymentIntentID: req.PaymentIntentID,
	}

	status, err := c.post(ctx, "commit_reservation", "/v1/inventory/commit", body, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return errs.New(errs.KindInventoryConflict, "inventory rejected the commit")
	case http.StatusGone:
		return errs.New(errs.KindInventoryConflict, "inventory hold has expired")
	default:
		return unexpectedStatus("commit_reservation", status)
	}
}

type releaseRequest struct {
	ReservationID string   `json:"reservation_id"`
	EventID       string   `json:"event_id"`
	SeatIDs       []string `json:"seat_ids"`
	HoldToken     string   `json:"hold_token"`
	Quantity      int      `json:"quantity"`
}

// ReleaseHold frees held seats. Idempotent by hold token, so transient
// failures are retried; an already-freed hold (not found) is not an error.
func (c *Client) ReleaseHold(ctx context.Context, req *domain.ReleaseRequest) error {
	body := releaseRequest{
		ReservationID: req.ReservationID,
		EventID:       req.EventID,
		SeatIDs:       req.SeatIDs,
		HoldToken:     req.HoldToken,
		Quantity:      req.Quantity,
	}

	return c.releaseRetry.Do(ctx, func(ctx context.Context) error {
		status, err := c.post(ctx, "release_hold", "/v1/inventory/release", body, nil)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
			return nil
		default:
			return unexpectedStatus("release_hold", status)
		}
	})
}

// post sends one request through the breaker and decodes a 2xx body into out.
// The returned status lets each operation map its own business outcomes;
// transport failures and 5xx responses come back as kinded errors and count
// against the breaker.
func (c *Client) post(ctx context.Context, operation, path string, body, out any) (int, error) {
	ctx, cancel := resilience.CallTimeout(ctx, c.callTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, "encode inventory request", err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "build inventory request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errs.Wrap(errs.KindUpstreamTimeout, operation+" deadline exceeded", err)
			}
			return nil, errs.Wrap(errs.KindUpstreamUnavailable, operation+" transport failure", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errs.Newf(errs.KindUpstreamUnavailable, "%s: inventory returned %d", operation, resp.StatusCode)
		}

		if out != nil && resp.StatusCode < http.StatusMultipleChoices {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, errs.Wrap(errs.KindInternal, "decode inventory response", err)
			}
		}
		return resp.StatusCode, nil
	})
	metrics.RecordInventoryCall(operation, callOutcome(err), time.Since(start))

	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return 0, errs.Wrap(errs.KindUpstreamUnavailable, "inventory circuit open", err)
		}
		return 0, err
	}
	return result.(int), nil
}

func callOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}

func unexpectedStatus(operation string, status int) error {
	return errs.New(errs.KindInternal, fmt.Sprintf("%s: unexpected inventory status %d", operation, status))
}

// Verify interface implementation.
var _ domain.InventoryClient = (*Client)(nil)
