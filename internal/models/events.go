package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderConfirmed = "ORDER_CONFIRMED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypePaymentSuccess = "PAYMENT_SUCCESS"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderLineData represents line data carried in events
type OrderLineData struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// OrderPlacedEvent published when an order is placed and inventory reserved
type OrderPlacedEvent struct {
	BaseEvent
	OrderID          int64           `json:"order_id"`
	UserID           int64           `json:"user_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentReference string          `json:"payment_reference"`
	Lines            []OrderLineData `json:"lines"`
}

// OrderConfirmedEvent published when a payment completes and the order is
// confirmed
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID          int64  `json:"order_id"`
	UserID           int64  `json:"user_id"`
	PaymentReference string `json:"payment_reference"`
}

// OrderCancelledEvent published when a payment fails and the order is
// cancelled with its stock restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID          int64  `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	Reason           string `json:"reason"`
}

// PaymentSuccessEvent consumed from the payment events topic; an alternative
// callback channel to the HTTP webhook
type PaymentSuccessEvent struct {
	BaseEvent
	PaymentReference string `json:"payment_reference"`
}

// PaymentFailedEvent consumed from the payment events topic
type PaymentFailedEvent struct {
	BaseEvent
	PaymentReference string `json:"payment_reference"`
	Reason           string `json:"reason"`
}
