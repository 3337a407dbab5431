package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRecord is the stock ledger's view of a product: price and available quantity.
// The JSON shape is the ledger's wire contract.
type StockRecord struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DeductRequest is the body of POST /products/{id}/deduct.
type DeductRequest struct {
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference,omitempty"`
}

// StockAdjustRequest is the body of PUT /products/{id}/stock.
type StockAdjustRequest struct {
	QuantityDelta int    `json:"quantity_delta"`
	Reference     string `json:"reference,omitempty"`
}

// StockChange reports the outcome of a ledger delta.
type StockChange struct {
	ProductID   int64 `json:"product_id"`
	NewQuantity int   `json:"new_quantity"`
	// Replayed is true when the reference had already been applied and the delta was skipped.
	Replayed bool `json:"replayed"`
}

// CreateProductRequest is the body of POST /products.
type CreateProductRequest struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

// Validate checks the request fields.
func (r CreateProductRequest) Validate() error {
	if r.Name == "" {
		return NewDomainError(KindValidation, "name is required")
	}
	if !r.Price.IsPositive() {
		return NewDomainError(KindValidation, "price must be greater than zero")
	}
	if r.StockQuantity < 0 {
		return NewDomainError(KindValidation, "stock_quantity must be non-negative")
	}
	return nil
}
