package service

import (
	"context"
	"time"

	"orderhub/internal/model"
)

// Partial failure policies decide the status of an order whose deductions
// could not all be applied after commit.
const (
	PolicyConfirm = "confirm"
	PolicyHold    = "hold"
	PolicyCancel  = "cancel"
)

// InventoryService defines operations on the stock ledger.
type InventoryService interface {
	// CreateProduct registers a product with its price and opening stock.
	CreateProduct(ctx context.Context, req *model.CreateProductRequest) (*model.StockRecord, error)

	// List retrieves products with pagination.
	List(ctx context.Context, limit, offset int) ([]model.StockRecord, error)

	// Get retrieves a single product.
	Get(ctx context.Context, id int64) (*model.StockRecord, error)

	// Deduct removes quantity from stock, failing with InsufficientStock
	// rather than going negative.
	Deduct(ctx context.Context, id int64, quantity int, reference string) (*model.StockChange, error)

	// AdjustStock applies a signed delta to stock.
	AdjustStock(ctx context.Context, id int64, delta int, reference string) (*model.StockChange, error)
}

// OrderService defines operations for order management.
type OrderService interface {
	// PlaceOrder prices, persists and reserves stock for a new order.
	PlaceOrder(ctx context.Context, caller model.Caller, req *model.PlaceOrderRequest) (*model.Order, error)

	// GetOrder retrieves an order visible to caller.
	GetOrder(ctx context.Context, caller model.Caller, id int64) (*model.Order, error)

	// ListOrders retrieves orders visible to caller, newest first.
	ListOrders(ctx context.Context, caller model.Caller, limit, offset int) ([]model.Order, error)

	// UpdateStatus moves an order to the named status.
	UpdateStatus(ctx context.Context, caller model.Caller, id int64, status string) (*model.Order, error)

	// CancelOrder releases the order's stock and cancels it.
	CancelOrder(ctx context.Context, id int64) error
}

// StockLedger is the order service's view of the inventory service.
type StockLedger interface {
	GetStock(ctx context.Context, productID int64) (*model.StockRecord, error)
	ApplyDelta(ctx context.Context, productID int64, delta int, reference string) (*model.StockChange, error)
}

// Enqueuer schedules fire-and-forget enrichment for a placed order.
type Enqueuer interface {
	Enqueue(orderID int64) bool
}

// EventPublisher broadcasts order events.
type EventPublisher interface {
	Publish(event model.OrderEvent)
}

// RetryOptions bounds how hard a ledger call is retried on transient failure.
type RetryOptions struct {
	MaxRetries int
	Interval   time.Duration
}

// OrderOptions holds order workflow policy.
type OrderOptions struct {
	PartialFailurePolicy string
	EnforceTransitions   bool
	Retry                RetryOptions
}
