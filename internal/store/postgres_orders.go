package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nexusmart/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderWithLines inserts the order and all of its lines in one
// transaction. An order with zero lines is never visible.
func (s *Postgres) CreateOrderWithLines(ctx context.Context, order *models.Order, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must have at least one line", models.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, total_amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		order.UserID, order.TotalAmount, order.Status)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range lines {
		lines[i].OrderID = order.ID
		err = tx.GetContext(ctx, &lines[i].ID, `
			INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			lines[i].OrderID, lines[i].ProductID, lines[i].Quantity, lines[i].PriceAtPurchase)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Postgres) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrders retrieves all orders
func (s *Postgres) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Postgres) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderLines retrieves all lines for an order
func (s *Postgres) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// UpdateOrderStatus updates order status
func (s *Postgres) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	return nil
}

// DeleteOrder removes the order's lines, payment, then the order itself, in
// one transaction. Compensation path only.
func (s *Postgres) DeleteOrder(ctx context.Context, orderID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM payments WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	return tx.Commit()
}

// CreatePayment creates a new payment record
func (s *Postgres) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, provider, status, reference, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Provider, payment.Status, payment.Reference, payment.Amount)
}

// GetPaymentByOrderID retrieves the payment for an order
func (s *Postgres) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %d", models.ErrPaymentNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByReference retrieves a payment by its gateway reference
func (s *Postgres) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE reference = $1", reference)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, reference)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FinalizePaymentSuccess marks the payment COMPLETED and the order CONFIRMED
// in one transaction, so no reader observes one without the other. The order
// row is locked first; an order already in a terminal status means a replayed
// callback, reported as applied=false with nothing written.
func (s *Postgres) FinalizePaymentSuccess(ctx context.Context, reference string, paidAt time.Time) (*models.Payment, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	payment, orderStatus, err := s.lockPaymentAndOrder(ctx, tx, reference)
	if err != nil {
		return nil, false, err
	}

	if orderStatus != models.OrderStatusPending {
		return payment, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, paid_at = $2, updated_at = NOW() WHERE id = $3",
		models.PaymentStatusCompleted, paidAt, payment.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		models.OrderStatusConfirmed, payment.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to confirm order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	payment.Status = models.PaymentStatusCompleted
	payment.PaidAt = &paidAt
	return payment, true, nil
}

// FinalizePaymentFailure marks the payment FAILED, the order CANCELLED, and
// restores stock for the order's captured lines, all in one transaction. An
// order already CANCELLED (or CONFIRMED) means a replayed or conflicting
// callback; stock is not restored again.
func (s *Postgres) FinalizePaymentFailure(ctx context.Context, reference string) (*models.Payment, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	payment, orderStatus, err := s.lockPaymentAndOrder(ctx, tx, reference)
	if err != nil {
		return nil, false, err
	}

	if orderStatus != models.OrderStatusPending {
		return payment, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		models.PaymentStatusFailed, payment.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		models.OrderStatusCancelled, payment.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to cancel order: %w", err)
	}

	// Restore from the order's captured lines, not the cart: the cart was
	// cleared at placement time.
	var lines []models.CartLine
	err = tx.SelectContext(ctx, &lines,
		"SELECT product_id, quantity FROM order_items WHERE order_id = $1", payment.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load order items: %w", err)
	}
	if err := restoreStockTx(ctx, tx, lines); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	payment.Status = models.PaymentStatusFailed
	return payment, true, nil
}

func (s *Postgres) lockPaymentAndOrder(ctx context.Context, tx *sqlx.Tx, reference string) (*models.Payment, string, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE reference = $1 FOR UPDATE", reference)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("%w: %s", models.ErrPaymentNotFound, reference)
	}
	if err != nil {
		return nil, "", err
	}

	var orderStatus string
	err = tx.GetContext(ctx, &orderStatus,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", payment.OrderID)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("%w: %d", models.ErrOrderNotFound, payment.OrderID)
	}
	if err != nil {
		return nil, "", err
	}

	return &payment, orderStatus, nil
}

// IsEventProcessed checks if a callback event has been processed
func (s *Postgres) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a callback event as processed
func (s *Postgres) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
