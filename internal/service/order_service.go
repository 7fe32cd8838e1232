package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"
	"nexusmart/internal/store"
	"nexusmart/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var minorUnitsPerUnit = decimal.NewFromInt(100)

// OrderService coordinates the placement workflow: cart snapshot,
// availability check, durable order creation, gateway intent, inventory
// decrement, cart clear. Any failure after order creation compensates in
// reverse order so no half-placed order is ever visible.
type OrderService struct {
	store     store.Store
	carts     CartReader
	inventory *InventoryLedger
	gateway   gateway.Gateway
	events    EventPublisher
	currency  string
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store store.Store,
	carts CartReader,
	inventory *InventoryLedger,
	gw gateway.Gateway,
	events EventPublisher,
	currency string,
) *OrderService {
	return &OrderService{
		store:     store,
		carts:     carts,
		inventory: inventory,
		gateway:   gw,
		events:    events,
		currency:  currency,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderResponse is returned to the client after a successful placement.
type PlaceOrderResponse struct {
	OrderID          int64  `json:"order_id"`
	ClientSecret     string `json:"client_secret"`
	PaymentReference string `json:"payment_reference"`
}

// PlaceOrder converts the user's cart into a durable order with a pending
// payment, reserving inventory along the way.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", models.ErrInvalidArgument)
	}

	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrCartNotFound) {
			util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
			return nil, models.ErrEmptyCart
		}
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(lines) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	shortages, err := s.inventory.CheckAvailability(ctx, lines)
	if err != nil {
		return nil, err
	}
	if len(shortages) > 0 {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, &models.InsufficientStockError{Shortages: shortages}
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	orderLines := make([]models.OrderLine, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		orderLines = append(orderLines, models.OrderLine{
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			PriceAtPurchase: product.Price,
		})
	}

	order := &models.Order{
		UserID:      userID,
		TotalAmount: total,
		Status:      models.OrderStatusPending,
	}
	if err := s.store.CreateOrderWithLines(ctx, order, orderLines); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", total.String()))

	// Round to the nearest cent so the charged amount matches the stored
	// total even for sub-cent prices.
	amountMinor := total.Mul(minorUnitsPerUnit).Round(0).IntPart()
	intent, err := s.gateway.CreateIntent(ctx, amountMinor, s.currency, order.ID)
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("error").Inc()
		util.OrdersFailedTotal.WithLabelValues("gateway").Inc()
		s.compensate(ctx, order.ID, nil)
		return nil, fmt.Errorf("payment intent creation failed: %w", err)
	}
	util.PaymentIntentsTotal.WithLabelValues("ok").Inc()

	payment := &models.Payment{
		OrderID:   order.ID,
		Provider:  models.PaymentProviderCard,
		Status:    models.PaymentStatusPending,
		Reference: intent.ID,
		Amount:    total,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		s.compensate(ctx, order.ID, nil)
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	if err := s.inventory.Decrement(ctx, lines); err != nil {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		s.compensate(ctx, order.ID, nil)
		return nil, err
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		s.compensate(ctx, order.ID, lines)
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	util.OrdersPlacedTotal.Inc()

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:          order.ID,
		UserID:           userID,
		TotalAmount:      total,
		PaymentReference: intent.ID,
		Lines:            toLineData(orderLines),
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("payment_reference", intent.ID))

	return &PlaceOrderResponse{
		OrderID:          order.ID,
		ClientSecret:     intent.ClientSecret,
		PaymentReference: intent.ID,
	}, nil
}

// compensate undoes a partially-placed order: restore stock if it was already
// decremented, then delete the order with its lines and payment.
func (s *OrderService) compensate(ctx context.Context, orderID int64, decremented []models.CartLine) {
	if len(decremented) > 0 {
		if err := s.inventory.Restore(ctx, decremented); err != nil {
			s.logger.Error("Failed to restore stock during compensation",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}
	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		s.logger.Error("Failed to delete order during compensation",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (s *OrderService) loadProducts(ctx context.Context, lines []models.CartLine) (map[int64]*models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
		}
	}
	return byID, nil
}

func toLineData(lines []models.OrderLine) []models.OrderLineData {
	data := make([]models.OrderLineData, len(lines))
	for i, line := range lines {
		data[i] = models.OrderLineData{
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			PriceAtPurchase: line.PriceAtPurchase,
		}
	}
	return data
}

// UpdateOrderStatus is the administrative override. It writes the status and
// nothing else: no inventory or payment side effects.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	if orderID <= 0 {
		return fmt.Errorf("%w: order id must be positive", models.ErrInvalidArgument)
	}
	if !models.ValidOrderStatus(status) {
		return fmt.Errorf("%w: unknown order status %q", models.ErrInvalidArgument, status)
	}
	return s.store.UpdateOrderStatus(ctx, orderID, status)
}

// GetOrder retrieves an order and its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderLine, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, lines, nil
}

// GetAllOrders retrieves every order
func (s *OrderService) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetOrders(ctx)
}

// GetUserOrders retrieves orders for a user, newest first
func (s *OrderService) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", models.ErrInvalidArgument)
	}
	return s.store.GetOrdersByUserID(ctx, userID)
}

// GetPaymentByOrderID retrieves the payment for an order
func (s *OrderService) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	return s.store.GetPaymentByOrderID(ctx, orderID)
}

// GetPaymentByReference retrieves a payment by its gateway reference
func (s *OrderService) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference cannot be empty", models.ErrInvalidArgument)
	}
	return s.store.GetPaymentByReference(ctx, reference)
}
