package repository

import (
	"context"
	"time"

	"orderhub/internal/model"

	"github.com/jackc/pgx/v5"
)

// ProductRepository defines data access for the stock ledger.
type ProductRepository interface {
	// Create inserts a product and sets its ID.
	Create(ctx context.Context, product *model.StockRecord) error

	// List retrieves products ordered by ID with pagination support.
	List(ctx context.Context, limit, offset int) ([]model.StockRecord, error)

	// GetByID retrieves a single product. Returns nil, nil when absent.
	GetByID(ctx context.Context, id int64) (*model.StockRecord, error)

	// ApplyDelta atomically adds delta to the product's stock, refusing any
	// change that would make it negative. A non-empty reference is applied
	// at most once; a repeated reference reports Replayed without changing stock.
	ApplyDelta(ctx context.Context, id int64, delta int, reference string) (*model.StockChange, error)
}

// OrderFilter narrows List results.
type OrderFilter struct {
	// UserID restricts results to one owner when non-nil.
	UserID *int64
	Limit  int
	Offset int
}

// OrderRepository defines the interface for order data access operations.
type OrderRepository interface {
	// BeginTx starts a new database transaction.
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// CreateOrder inserts a new order within the provided transaction and sets
	// its ID and timestamps.
	CreateOrder(ctx context.Context, tx pgx.Tx, order *model.Order) error

	// CreateOrderLines inserts the lines within the provided transaction and
	// sets each line's ID.
	CreateOrderLines(ctx context.Context, tx pgx.Tx, lines []model.OrderLine) error

	// GetByID retrieves an order with its lines. Returns nil, nil when absent.
	GetByID(ctx context.Context, id int64) (*model.Order, error)

	// List retrieves orders, newest first, with their lines.
	List(ctx context.Context, filter OrderFilter) ([]model.Order, error)

	// UpdateStatus moves the order from one status to another. It reports
	// false when the order is no longer in status from.
	UpdateStatus(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error)

	// UpdateReservation records the reservation outcome of an order.
	UpdateReservation(ctx context.Context, id int64, reservation model.ReservationStatus) error

	// UpdateLineDeduction records the ledger outcome of a single line.
	UpdateLineDeduction(ctx context.Context, lineID int64, state model.DeductionState) error

	// ListUnsettled retrieves orders that have been reconciled fewer than
	// maxAttempts times and whose reservation is PARTIAL, or PENDING without
	// an update since pendingBefore, oldest first.
	ListUnsettled(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]model.Order, error)

	// IncrementReconcileAttempts bumps the attempt counter and returns the new value.
	IncrementReconcileAttempts(ctx context.Context, id int64) (int, error)
}

// IdempotencyRepository persists first responses keyed by idempotency key.
type IdempotencyRepository interface {
	// Get returns the record for key, or nil, nil when absent.
	Get(ctx context.Context, key string) (*model.IdempotencyRecord, error)

	// Insert stores the record unless the key exists. It reports whether
	// this call created the row.
	Insert(ctx context.Context, record *model.IdempotencyRecord) (bool, error)
}
