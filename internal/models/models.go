package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog. Stock is mutated only through
// the inventory ledger; it must never be observed negative.
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Cart is a user's shopping cart. One cart per user.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine is a single cart entry (product + quantity) as read at checkout.
type CartLine struct {
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Order represents a placed order.
type Order struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderLine is a line of a placed order. The price is captured at purchase
// time so historical orders stay immutable when catalog prices change.
type OrderLine struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	Quantity        int             `db:"quantity" json:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase" json:"price_at_purchase"`
}

// Payment is the local mirror of a gateway payment, keyed by order and by the
// gateway-assigned reference.
type Payment struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Provider  string          `db:"provider" json:"provider"`
	Status    string          `db:"status" json:"status"`
	Reference string          `db:"reference" json:"reference"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	PaidAt    *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Order statuses. PENDING is the only non-terminal status.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCancelled = "CANCELLED"
)

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled:
		return true
	}
	return false
}

// Payment statuses.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Payment providers.
const (
	PaymentProviderCard = "CREDIT_CARD"
)

// ProcessedEvent records an already-handled callback event for replay checks.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
