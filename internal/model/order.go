package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Monetary amounts serialize as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// transitions lists the statuses each status may move to.
var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

// ParseOrderStatus converts s into a known OrderStatus. Matching is case-insensitive.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[status]; !ok {
		return "", NewDomainError(KindValidation, fmt.Sprintf("%s %q", ErrInvalidStatus.Message, s))
	}
	return status, nil
}

// CanTransitionTo reports whether s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ReservationStatus tracks the stock reservation saga for an order.
type ReservationStatus string

const (
	// ReservationPending: the order is committed and deductions are being applied.
	ReservationPending ReservationStatus = "PENDING"
	// ReservationComplete: every line was deducted from the ledger.
	ReservationComplete ReservationStatus = "COMPLETE"
	// ReservationPartial: some deductions could not be applied yet; the reconciler retries them.
	ReservationPartial ReservationStatus = "PARTIAL"
	// ReservationReleased: applied deductions were credited back.
	ReservationReleased ReservationStatus = "RELEASED"
	// ReservationFailed: reconciliation gave up; manual follow-up required.
	ReservationFailed ReservationStatus = "FAILED"
)

// DeductionState is the ledger outcome of a single order line.
type DeductionState string

const (
	// DeductionNotAttempted: the ledger has never been asked for this line.
	DeductionNotAttempted DeductionState = "NOT_ATTEMPTED"
	// DeductionPending: a deduction was sent and its outcome is unknown.
	DeductionPending  DeductionState = "PENDING"
	DeductionApplied  DeductionState = "APPLIED"
	DeductionFailed   DeductionState = "FAILED"
	DeductionReleased DeductionState = "RELEASED"
)

// Order represents a customer order.
type Order struct {
	ID                int64
	UserID            int64
	Status            OrderStatus
	Reservation       ReservationStatus
	TotalAmount       decimal.Decimal
	ReconcileAttempts int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Lines             []OrderLine
}

// OrderLine represents a line item in an order.
type OrderLine struct {
	ID              int64
	OrderID         int64
	ProductID       int64
	Quantity        int
	PriceAtPurchase decimal.Decimal
	Deduction       DeductionState
}

// Extension returns quantity × price_at_purchase.
func (l OrderLine) Extension() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// DeductionReference is the ledger reference that makes this line's deduction idempotent.
func (l OrderLine) DeductionReference() string {
	return fmt.Sprintf("order:%d:line:%d", l.OrderID, l.ID)
}

// ReleaseReference is the ledger reference for crediting this line back.
func (l OrderLine) ReleaseReference() string {
	return l.DeductionReference() + ":release"
}

// ComputeTotal sums the line extensions.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Extension())
	}
	return total
}

// PlaceOrderRequest represents the request payload for placing an order.
type PlaceOrderRequest struct {
	Items []OrderLineRequest `json:"items"`
}

// OrderLineRequest represents a single item in an order request.
type OrderLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// UpdateStatusRequest is the body of PUT /orders/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// OrderResponse represents the response payload for an order.
type OrderResponse struct {
	ID                int64               `json:"id"`
	UserID            int64               `json:"user_id"`
	Status            OrderStatus         `json:"status"`
	ReservationStatus ReservationStatus   `json:"reservation_status"`
	TotalAmount       decimal.Decimal     `json:"total_amount"`
	CreatedAt         time.Time           `json:"created_at"`
	Items             []OrderLineResponse `json:"items"`
}

// OrderLineResponse represents an order line in responses.
type OrderLineResponse struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// NewOrderResponse builds the caller-facing representation of o.
func NewOrderResponse(o *Order) OrderResponse {
	items := make([]OrderLineResponse, len(o.Lines))
	for i, line := range o.Lines {
		items[i] = OrderLineResponse{
			ID:              line.ID,
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			PriceAtPurchase: line.PriceAtPurchase,
		}
	}

	return OrderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		Status:            o.Status,
		ReservationStatus: o.Reservation,
		TotalAmount:       o.TotalAmount,
		CreatedAt:         o.CreatedAt.UTC(),
		Items:             items,
	}
}

// Caller is the identity resolved from a bearer credential.
type Caller struct {
	ID         int64
	Email      string
	Privileged bool
}

// CanView reports whether the caller may read an order owned by userID.
func (c Caller) CanView(userID int64) bool {
	return c.Privileged || c.ID == userID
}
