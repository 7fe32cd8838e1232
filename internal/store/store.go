package store

import (
	"context"
	"time"

	"nexusmart/internal/models"
)

// Store is the persistence port for the checkout workflow. The Postgres
// implementation backs production; Memory backs unit tests and local runs.
//
// Methods that span several rows (order + lines, decrement, reconciliation)
// are single transactions: either every effect is visible or none is.
type Store interface {
	// Products
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)

	// Carts
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	UpsertCartLine(ctx context.Context, cartID, productID int64, quantity int) error
	ClearCart(ctx context.Context, cartID int64) error

	// Orders
	CreateOrderWithLines(ctx context.Context, order *models.Order, lines []models.OrderLine) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	// DeleteOrder removes an order together with its lines and payment, in
	// that order. Compensation path only; placed orders are never deleted in
	// normal operation.
	DeleteOrder(ctx context.Context, orderID int64) error

	// Payments
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)

	// Inventory. DecrementStock re-checks availability under per-product row
	// locks and applies all lines or none, returning
	// *models.InsufficientStockError when any line would overdraw stock.
	DecrementStock(ctx context.Context, lines []models.CartLine) error
	RestoreStock(ctx context.Context, lines []models.CartLine) error

	// Reconciliation. Both finalizers apply the payment and order status
	// writes in one transaction and report applied=false without touching
	// anything when the order is already in a terminal status, which makes
	// replayed callbacks no-ops. FinalizePaymentFailure also restores stock
	// for the order's captured lines when (and only when) it applies.
	FinalizePaymentSuccess(ctx context.Context, reference string, paidAt time.Time) (payment *models.Payment, applied bool, err error)
	FinalizePaymentFailure(ctx context.Context, reference string) (payment *models.Payment, applied bool, err error)

	// Processed events, for callback replay bookkeeping.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Close() error
}
