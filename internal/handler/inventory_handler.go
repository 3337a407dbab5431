package handler

import (
	"net/http"

	"orderhub/internal/model"
	"orderhub/internal/service"

	"github.com/rs/zerolog"
)

// InventoryHandler handles stock ledger HTTP requests.
type InventoryHandler struct {
	service service.InventoryService
	logger  zerolog.Logger
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(service service.InventoryService, logger zerolog.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: service,
		logger:  logger.With().Str("handler", "inventory").Logger(),
	}
}

// Create handles POST /products.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), &req)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

// List handles GET /products with pagination.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	products, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// GetByID handles GET /products/{id}.
func (h *InventoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, model.ErrProductNotFound)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// Deduct handles POST /products/{id}/deduct.
func (h *InventoryHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, model.ErrProductNotFound)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	var req model.DeductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	change, err := h.service.Deduct(r.Context(), id, req.Quantity, req.Reference)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, change)
}

// AdjustStock handles PUT /products/{id}/stock.
func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, model.ErrProductNotFound)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	var req model.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	change, err := h.service.AdjustStock(r.Context(), id, req.QuantityDelta, req.Reference)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, change)
}
