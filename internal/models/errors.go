package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyCart means the user has nothing to order.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrCartNotFound means the user has no cart at all.
	ErrCartNotFound = errors.New("cart not found")

	// ErrOrderNotFound means no order exists for the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPaymentNotFound means no payment exists for the given id or reference.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrProductNotFound means a referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidArgument covers null/invalid identifiers passed to internal
	// operations; not expected from a well-formed client.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Shortage describes one cart line whose requested quantity exceeds stock.
type Shortage struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

func (s Shortage) String() string {
	return fmt.Sprintf("product '%s' has insufficient stock. Requested: %d, Available: %d",
		s.ProductName, s.Requested, s.Available)
}

// InsufficientStockError is returned when one or more lines exceed available
// stock. It enumerates every shortage so the client can fix the whole cart.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	msgs := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		msgs[i] = s.String()
	}
	return "insufficient stock: " + strings.Join(msgs, ", ")
}
