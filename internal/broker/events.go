package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"nexusmart/internal/models"
	"nexusmart/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes order lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes an OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderConfirmed publishes an OrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes an OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PaymentEventHandler routes payment outcome events consumed from the
// payment events topic. This is the second callback channel next to the HTTP
// webhook; both funnel into the same reconciliation paths.
type PaymentEventHandler struct {
	onPaymentSuccess func(ctx context.Context, paymentReference string) error
	onPaymentFailed  func(ctx context.Context, paymentReference string) error
	logger           *zap.Logger
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler() *PaymentEventHandler {
	return &PaymentEventHandler{logger: util.GetLogger()}
}

// OnPaymentSuccess registers the success callback
func (h *PaymentEventHandler) OnPaymentSuccess(fn func(ctx context.Context, paymentReference string) error) {
	h.onPaymentSuccess = fn
}

// OnPaymentFailed registers the failure callback
func (h *PaymentEventHandler) OnPaymentFailed(fn func(ctx context.Context, paymentReference string) error) {
	h.onPaymentFailed = fn
}

// HandleMessage decodes a payment event and dispatches it
func (h *PaymentEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess:
		if h.onPaymentSuccess == nil {
			return nil
		}
		var event models.PaymentSuccessEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal PaymentSuccess event: %w", err)
		}
		return h.onPaymentSuccess(ctx, event.PaymentReference)

	case models.EventTypePaymentFailed:
		if h.onPaymentFailed == nil {
			return nil
		}
		var event models.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
		}
		return h.onPaymentFailed(ctx, event.PaymentReference)

	default:
		h.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
