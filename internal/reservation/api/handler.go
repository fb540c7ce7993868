// Package api is the HTTP adapter over the reservation operations. It stays
// thin: decode, delegate, map kinds to status codes. All business decisions
// live in the application layer.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/errs"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/application"
)

// idempotencyKeyHeader carries the client-chosen key for mutating operations.
const idempotencyKeyHeader = "Idempotency-Key"

// Handler implements the HTTP handlers for the Reservation API.
type Handler struct {
	service *application.ReservationService
}

// NewHandler creates a new Handler.
func NewHandler(service *application.ReservationService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the Reservation API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /reservations", h.CreateReservation)
	mux.HandleFunc("GET /reservations/{id}", h.GetReservation)
	mux.HandleFunc("POST /reservations/{id}/confirm", h.ConfirmReservation)
	mux.HandleFunc("POST /reservations/{id}/cancel", h.CancelReservation)
}

// CreateReservationRequest is the JSON request body for placing a hold.
type CreateReservationRequest struct {
	EventID          string   `json:"event_id"`
	Quantity         int      `json:"quantity"`
	SeatIDs          []string `json:"seat_ids,omitempty"`
	ReservationToken string   `json:"reservation_token,omitempty"`
}

// CreateReservation handles POST /reservations.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errs.Wrap(errs.KindInvalidRequest, "invalid request body", err))
		return
	}

	resp, err := h.service.CreateReservation(ctx, application.CreateReservationRequest{
		UserID:           logging.UserIDFromContext(ctx),
		IdempotencyKey:   r.Header.Get(idempotencyKeyHeader),
		EventID:          req.EventID,
		Quantity:         req.Quantity,
		SeatIDs:          req.SeatIDs,
		ReservationToken: req.ReservationToken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// GetReservation handles GET /reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.GetReservation(ctx, application.GetReservationRequest{
		UserID:        logging.UserIDFromContext(ctx),
		ReservationID: r.PathValue("id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ConfirmReservationRequest is the JSON request body for confirming a hold.
// Amount is the decimal charge settled by the payment subsystem; it is
// carried opaquely onto the order.
type ConfirmReservationRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          string `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// ConfirmReservation handles POST /reservations/{id}/confirm.
func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConfirmReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errs.Wrap(errs.KindInvalidRequest, "invalid request body", err))
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = types.CurrencyKRW
	}
	amount := types.Zero(currency)
	if req.Amount != "" {
		parsed, err := types.NewMoneyFromString(req.Amount, currency)
		if err != nil {
			h.writeError(w, r, errs.New(errs.KindInvalidRequest, "amount is not a valid decimal"))
			return
		}
		amount = parsed
	}

	resp, err := h.service.ConfirmReservation(ctx, application.ConfirmReservationRequest{
		UserID:          logging.UserIDFromContext(ctx),
		IdempotencyKey:  r.Header.Get(idempotencyKeyHeader),
		ReservationID:   r.PathValue("id"),
		PaymentIntentID: req.PaymentIntentID,
		Amount:          amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CancelReservation handles POST /reservations/{id}/cancel. The request
// carries no body.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	io.Copy(io.Discard, r.Body)

	resp, err := h.service.CancelReservation(ctx, application.CancelReservationRequest{
		UserID:         logging.UserIDFromContext(ctx),
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
		ReservationID:  r.PathValue("id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// statusForKind maps taxonomy kinds to HTTP status codes.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidRequest, errs.KindIdempotencyRequired:
		return http.StatusBadRequest
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindReservationNotFound:
		return http.StatusNotFound
	case errs.KindIdempotencyConflict, errs.KindReservationExpired,
		errs.KindSeatUnavailable, errs.KindInventoryConflict, errs.KindInvalidState:
		return http.StatusConflict
	case errs.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case errs.KindUpstreamUnavailable, errs.KindStoreTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the user-visible error shape.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// writeError maps an error to its status code and user-visible shape.
// Internal errors are logged with full detail and surfaced generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	kind := errs.KindOf(err)

	message := "internal server error"
	if kind != errs.KindInternal {
		var tagged *errs.Error
		if errors.As(err, &tagged) {
			message = tagged.Message
		}
	} else {
		logging.ErrorContext(ctx, "Unhandled error", "error", err)
	}

	h.writeJSON(w, statusForKind(kind), ErrorResponse{Error: ErrorBody{
		Code:    string(kind),
		Message: message,
		TraceID: logging.TraceIDFromContext(ctx).String(),
	}})
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
