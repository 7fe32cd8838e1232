package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nexusmart/internal/models"
)

// Memory is an in-process Store used by unit tests and local runs. Every
// operation takes the single mutex, which gives the same all-or-nothing
// visibility as the Postgres transactions.
type Memory struct {
	mu sync.Mutex

	products  map[int64]*models.Product
	carts     map[int64]*models.Cart // by cart id
	cartItems map[int64]map[int64]int
	orders    map[int64]*models.Order
	lines     map[int64][]models.OrderLine
	payments  map[int64]*models.Payment // by payment id
	processed map[string]models.ProcessedEvent

	nextProductID int64
	nextCartID    int64
	nextOrderID   int64
	nextLineID    int64
	nextPaymentID int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:  make(map[int64]*models.Product),
		carts:     make(map[int64]*models.Cart),
		cartItems: make(map[int64]map[int64]int),
		orders:    make(map[int64]*models.Order),
		lines:     make(map[int64][]models.OrderLine),
		payments:  make(map[int64]*models.Payment),
		processed: make(map[string]models.ProcessedEvent),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextProductID++
	p.ID = m.nextProductID
	p.CreatedAt = time.Now()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *Memory) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			products = append(products, *p)
		}
	}
	return products, nil
}

func (m *Memory) GetOrCreateCart(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cart := m.cartByUser(userID); cart != nil {
		cp := *cart
		return &cp, nil
	}

	m.nextCartID++
	cart := &models.Cart{ID: m.nextCartID, UserID: userID, CreatedAt: time.Now()}
	m.carts[cart.ID] = cart
	m.cartItems[cart.ID] = make(map[int64]int)
	cp := *cart
	return &cp, nil
}

func (m *Memory) GetCartByUserID(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart := m.cartByUser(userID)
	if cart == nil {
		return nil, fmt.Errorf("%w: user %d", models.ErrCartNotFound, userID)
	}
	cp := *cart
	return &cp, nil
}

func (m *Memory) cartByUser(userID int64) *models.Cart {
	for _, c := range m.carts {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

func (m *Memory) GetCartLines(_ context.Context, cartID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.cartItems[cartID]
	lines := make([]models.CartLine, 0, len(items))
	for productID, qty := range items {
		lines = append(lines, models.CartLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (m *Memory) UpsertCartLine(_ context.Context, cartID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.carts[cartID]; !ok {
		return fmt.Errorf("%w: cart %d", models.ErrCartNotFound, cartID)
	}
	if m.cartItems[cartID] == nil {
		m.cartItems[cartID] = make(map[int64]int)
	}
	m.cartItems[cartID][productID] = quantity
	return nil
}

func (m *Memory) ClearCart(_ context.Context, cartID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cartItems[cartID] = make(map[int64]int)
	return nil
}

func (m *Memory) CreateOrderWithLines(_ context.Context, order *models.Order, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must have at least one line", models.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrderID++
	order.ID = m.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	stored := make([]models.OrderLine, len(lines))
	for i := range lines {
		m.nextLineID++
		lines[i].ID = m.nextLineID
		lines[i].OrderID = order.ID
		stored[i] = lines[i]
	}

	cp := *order
	m.orders[order.ID] = &cp
	m.lines[order.ID] = stored
	return nil
}

func (m *Memory) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) GetOrders(_ context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (m *Memory) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (m *Memory) GetOrderLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]models.OrderLine, len(m.lines[orderID]))
	copy(lines, m.lines[orderID])
	return lines, nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeleteOrder(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lines, orderID)
	for id, p := range m.payments {
		if p.OrderID == orderID {
			delete(m.payments, id)
		}
	}
	delete(m.orders, orderID)
	return nil
}

func (m *Memory) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPaymentID++
	p.ID = m.nextPaymentID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *Memory) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: order %d", models.ErrPaymentNotFound, orderID)
}

func (m *Memory) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.paymentByReference(reference)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, reference)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) paymentByReference(reference string) *models.Payment {
	for _, p := range m.payments {
		if p.Reference == reference {
			return p
		}
	}
	return nil
}

func (m *Memory) DecrementStock(_ context.Context, lines []models.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var shortages []models.Shortage
	for _, line := range lines {
		p, ok := m.products[line.ProductID]
		if !ok {
			return fmt.Errorf("%w: %d", models.ErrProductNotFound, line.ProductID)
		}
		if p.StockQuantity < line.Quantity {
			shortages = append(shortages, models.Shortage{
				ProductID:   line.ProductID,
				ProductName: p.Name,
				Requested:   line.Quantity,
				Available:   p.StockQuantity,
			})
		}
	}
	if len(shortages) > 0 {
		return &models.InsufficientStockError{Shortages: shortages}
	}

	for _, line := range lines {
		m.products[line.ProductID].StockQuantity -= line.Quantity
	}
	return nil
}

func (m *Memory) RestoreStock(_ context.Context, lines []models.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restoreLocked(lines)
	return nil
}

func (m *Memory) restoreLocked(lines []models.CartLine) {
	for _, line := range lines {
		if p, ok := m.products[line.ProductID]; ok {
			p.StockQuantity += line.Quantity
		}
	}
}

func (m *Memory) FinalizePaymentSuccess(_ context.Context, reference string, paidAt time.Time) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment := m.paymentByReference(reference)
	if payment == nil {
		return nil, false, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, reference)
	}
	order, ok := m.orders[payment.OrderID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", models.ErrOrderNotFound, payment.OrderID)
	}

	if order.Status != models.OrderStatusPending {
		cp := *payment
		return &cp, false, nil
	}

	payment.Status = models.PaymentStatusCompleted
	payment.PaidAt = &paidAt
	payment.UpdatedAt = time.Now()
	order.Status = models.OrderStatusConfirmed
	order.UpdatedAt = payment.UpdatedAt

	cp := *payment
	return &cp, true, nil
}

func (m *Memory) FinalizePaymentFailure(_ context.Context, reference string) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment := m.paymentByReference(reference)
	if payment == nil {
		return nil, false, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, reference)
	}
	order, ok := m.orders[payment.OrderID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", models.ErrOrderNotFound, payment.OrderID)
	}

	if order.Status != models.OrderStatusPending {
		cp := *payment
		return &cp, false, nil
	}

	payment.Status = models.PaymentStatusFailed
	payment.UpdatedAt = time.Now()
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = payment.UpdatedAt

	restore := make([]models.CartLine, 0, len(m.lines[order.ID]))
	for _, line := range m.lines[order.ID] {
		restore = append(restore, models.CartLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	m.restoreLocked(restore)

	cp := *payment
	return &cp, true, nil
}

func (m *Memory) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *Memory) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; ok {
		return nil
	}
	m.processed[eventID] = models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}
