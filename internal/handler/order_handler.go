package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"orderhub/internal/idempotency"
	"orderhub/internal/middleware"
	"orderhub/internal/model"
	"orderhub/internal/service"

	"github.com/rs/zerolog"
)

const (
	// IdempotencyKeyHeader names the client-chosen key that deduplicates order placement.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"

	compensationTimeout = 30 * time.Second
)

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	service service.OrderService
	store   idempotency.Store
	logger  zerolog.Logger

	background sync.WaitGroup
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service service.OrderService, store idempotency.Store, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		store:   store,
		logger:  logger.With().Str("handler", "order").Logger(),
	}
}

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized, h.logger)
		return
	}

	var req model.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		order, err := h.service.PlaceOrder(r.Context(), caller, &req)
		if err != nil {
			writeError(w, r, err, h.logger)
			return
		}
		writeJSON(w, http.StatusCreated, model.NewOrderResponse(order))
		return
	}

	scoped := idempotency.ScopedKey(caller.ID, key)

	record, err := h.store.Get(r.Context(), scoped)
	if err != nil {
		writeError(w, r, model.WrapError(model.KindUpstreamUnavailable, "idempotency store unavailable", err), h.logger)
		return
	}
	if record != nil {
		h.logger.Info().
			Str("request_id", middleware.RequestIDFrom(r.Context())).
			Int64("user_id", caller.ID).
			Str("idempotency_key", key).
			Msg("replaying stored response")
		w.Header().Set(ReplayedHeader, "true")
		writeRaw(w, record.StatusCode, record.ResponseBody)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), caller, &req)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	body, err := json.Marshal(model.NewOrderResponse(order))
	if err != nil {
		h.compensate(r.Context(), order.ID)
		writeError(w, r, err, h.logger)
		return
	}

	if err := h.store.Put(r.Context(), scoped, http.StatusCreated, body); err != nil {
		// The order exists but the key does not point at it; a retry would
		// place a second one, so this one is withdrawn.
		h.compensate(r.Context(), order.ID)
		if errors.Is(err, idempotency.ErrAlreadyExists) {
			writeError(w, r, model.ErrIdempotencyConflict, h.logger)
			return
		}
		writeError(w, r, model.WrapError(model.KindUpstreamUnavailable, "idempotency store unavailable", err), h.logger)
		return
	}

	writeRaw(w, http.StatusCreated, body)
}

// compensate cancels an order in the background, outliving the request.
func (h *OrderHandler) compensate(ctx context.Context, orderID int64) {
	requestID := middleware.RequestIDFrom(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		defer cancel()

		if err := h.service.CancelOrder(ctx, orderID); err != nil {
			h.logger.Error().
				Err(err).
				Str("request_id", requestID).
				Int64("order_id", orderID).
				Msg("failed to withdraw duplicate order")
			return
		}
		h.logger.Info().
			Str("request_id", requestID).
			Int64("order_id", orderID).
			Msg("duplicate order withdrawn")
	}()
}

// Wait blocks until background compensations finish.
func (h *OrderHandler) Wait() {
	h.background.Wait()
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized, h.logger)
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), caller, limit, offset)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	resp := make([]model.OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, model.NewOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetByID handles GET /orders/{id}.
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized, h.logger)
		return
	}

	id, err := idParam(r, model.ErrOrderNotFound)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	order, err := h.service.GetOrder(r.Context(), caller, id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, model.NewOrderResponse(order))
}

// UpdateStatus handles PUT /orders/{id}/status. The status comes from the
// JSON body or, when the body is empty, from the status query parameter.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized, h.logger)
		return
	}

	id, err := idParam(r, model.ErrOrderNotFound)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	var req model.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, model.WrapError(model.KindValidation, "invalid request body", err), h.logger)
		return
	}
	status := req.Status
	if status == "" {
		status = r.URL.Query().Get("status")
	}
	if status == "" {
		writeError(w, r, model.NewDomainError(model.KindValidation, "status is required"), h.logger)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), caller, id, status)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, model.NewOrderResponse(order))
}
