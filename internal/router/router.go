package router

import (
	"net/http"

	"orderhub/internal/auth"
	"orderhub/internal/handler"
	"orderhub/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// EventStream serves a WebSocket subscription for one client.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, clientID string)
}

// base applies the shared middleware chain: Recovery -> RequestID -> Logging -> CORS.
func base(logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS)

	r.Get("/health", handler.Health)
	return r
}

// NewOrderRouter creates the order service router. Order routes are mounted at
// both /orders and /api/v1/orders and require a bearer token.
func NewOrderRouter(
	orderHandler *handler.OrderHandler,
	events EventStream,
	resolver auth.Resolver,
	logger zerolog.Logger,
) http.Handler {
	r := base(logger)

	orders := chi.NewRouter()
	orders.Use(middleware.BearerAuth(resolver, logger))
	orders.Post("/", orderHandler.Create)
	orders.Get("/", orderHandler.List)
	orders.Get("/{id}", orderHandler.GetByID)
	orders.Put("/{id}/status", orderHandler.UpdateStatus)

	r.Mount("/orders", orders)
	r.Mount("/api/v1/orders", orders)

	r.Get("/ws/{client_id}", func(w http.ResponseWriter, req *http.Request) {
		events.ServeWS(w, req, chi.URLParam(req, "client_id"))
	})

	return r
}

// NewInventoryRouter creates the stock ledger router. Routes are mounted at
// both /products and /api/v1/inventory and require the internal API key.
func NewInventoryRouter(inventoryHandler *handler.InventoryHandler, apiKey string, logger zerolog.Logger) http.Handler {
	r := base(logger)

	products := chi.NewRouter()
	products.Use(middleware.APIKeyAuth(apiKey, logger))
	products.Post("/", inventoryHandler.Create)
	products.Get("/", inventoryHandler.List)
	products.Get("/{id}", inventoryHandler.GetByID)
	products.Post("/{id}/deduct", inventoryHandler.Deduct)
	products.Put("/{id}/stock", inventoryHandler.AdjustStock)

	r.Mount("/products", products)
	r.Mount("/api/v1/inventory", products)

	return r
}
