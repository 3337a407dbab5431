// Package enrichment runs fire-and-forget post-placement work for orders.
// Nothing here can fail or delay an order placement.
package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orderhub/internal/model"
)

// Snapshot is the enriched view of an order handed to a Sink.
type Snapshot struct {
	Order       model.OrderResponse `json:"order"`
	Summary     string              `json:"summary"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Sink consumes order snapshots.
type Sink interface {
	Process(ctx context.Context, snapshot Snapshot) error
}

// OrderLoader reads the persisted order for a job.
type OrderLoader interface {
	GetByID(ctx context.Context, id int64) (*model.Order, error)
}

// NewSnapshot builds the snapshot for order with a plain-text summary.
func NewSnapshot(order *model.Order, now time.Time) Snapshot {
	return Snapshot{
		Order:       model.NewOrderResponse(order),
		Summary:     Summarize(order),
		GeneratedAt: now.UTC(),
	}
}

// Summarize describes an order in one line.
func Summarize(order *model.Order) string {
	units := 0
	parts := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		units += line.Quantity
		parts = append(parts, fmt.Sprintf("%d x product %d @ %s", line.Quantity, line.ProductID, line.PriceAtPurchase.StringFixed(2)))
	}

	return fmt.Sprintf("Order #%d for user %d: %d units (%s), total %s, status %s",
		order.ID, order.UserID, units, strings.Join(parts, "; "), order.TotalAmount.StringFixed(2), order.Status)
}
