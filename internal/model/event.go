package model

import "time"

// Order event types published to real-time subscribers.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is a real-time notification about an order.
type OrderEvent struct {
	Type        string            `json:"type"`
	OrderID     int64             `json:"order_id"`
	UserID      int64             `json:"user_id"`
	Status      OrderStatus       `json:"status"`
	Reservation ReservationStatus `json:"reservation_status"`
	At          time.Time         `json:"at"`
}

// IdempotencyRecord is a stored first response for an idempotency key.
type IdempotencyRecord struct {
	Key          string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
}
