package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"
	"nexusmart/internal/redisclient"
	"nexusmart/internal/store"
	"nexusmart/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	webhookDedupTTL = 24 * time.Hour
	paymentLockTTL  = 10 * time.Second
)

// Reconciler applies asynchronous payment outcomes back onto order, payment
// and inventory state. Replayed callbacks are no-ops: the store finalizers
// refuse to touch an order already in a terminal status, so stock is never
// restored twice and an order is never re-confirmed.
type Reconciler struct {
	store  store.Store
	events EventPublisher
	cache  ReplayCache // optional fast-path dedup and locks
	logger *zap.Logger
}

var _ ReplayCache = (*redisclient.Client)(nil)

// NewReconciler creates a new reconciler. cache may be nil.
func NewReconciler(store store.Store, events EventPublisher, cache ReplayCache) *Reconciler {
	return &Reconciler{
		store:  store,
		events: events,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// HandlePaymentSuccess marks the payment COMPLETED with a paid-at timestamp
// and confirms the owning order. Inventory is untouched: it was decremented
// at placement time.
func (r *Reconciler) HandlePaymentSuccess(ctx context.Context, paymentReference string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandlePaymentSuccess")
	defer span.End()

	if strings.TrimSpace(paymentReference) == "" {
		return fmt.Errorf("%w: payment reference cannot be empty", models.ErrInvalidArgument)
	}

	unlock := r.lock(ctx, paymentReference)
	defer unlock()

	payment, applied, err := r.store.FinalizePaymentSuccess(ctx, paymentReference, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		r.logger.Info("Payment success callback replayed, order already settled",
			zap.String("payment_reference", paymentReference),
			zap.Int64("order_id", payment.OrderID))
		return nil
	}

	util.OrdersConfirmedTotal.Inc()
	r.logger.Info("Order confirmed",
		zap.Int64("order_id", payment.OrderID),
		zap.String("payment_reference", paymentReference))

	event := &models.OrderConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderConfirmed,
			Timestamp: time.Now(),
		},
		OrderID:          payment.OrderID,
		PaymentReference: paymentReference,
	}
	if order, err := r.store.GetOrderByID(ctx, payment.OrderID); err == nil {
		event.UserID = order.UserID
	}
	if err := r.events.PublishOrderConfirmed(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}

	return nil
}

// HandlePaymentFailure marks the payment FAILED, cancels the owning order and
// restores inventory from the order's captured lines. This is the only path
// that reverses a completed decrement.
func (r *Reconciler) HandlePaymentFailure(ctx context.Context, paymentReference string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandlePaymentFailure")
	defer span.End()

	if strings.TrimSpace(paymentReference) == "" {
		return fmt.Errorf("%w: payment reference cannot be empty", models.ErrInvalidArgument)
	}

	unlock := r.lock(ctx, paymentReference)
	defer unlock()

	payment, applied, err := r.store.FinalizePaymentFailure(ctx, paymentReference)
	if err != nil {
		return err
	}
	if !applied {
		r.logger.Info("Payment failure callback replayed, order already settled",
			zap.String("payment_reference", paymentReference),
			zap.Int64("order_id", payment.OrderID))
		return nil
	}

	util.OrdersCancelledTotal.Inc()
	util.StockRestoredTotal.Inc()
	r.logger.Warn("Order cancelled, stock restored",
		zap.Int64("order_id", payment.OrderID),
		zap.String("payment_reference", paymentReference))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:          payment.OrderID,
		PaymentReference: paymentReference,
		Reason:           "payment_failed",
	}
	if err := r.events.PublishOrderCancelled(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	return nil
}

// HandleWebhookEvent routes a signature-verified gateway event to the right
// reconciliation path. Event ids are remembered so a replayed webhook is
// dropped before it reaches the store.
func (r *Reconciler) HandleWebhookEvent(ctx context.Context, event *gateway.Event) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhookEvent")
	defer span.End()

	if event.ID != "" {
		if seen, err := r.seenBefore(ctx, event.ID); err != nil {
			r.logger.Warn("Webhook dedup check failed, relying on status guard", zap.Error(err))
		} else if seen {
			util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
			r.logger.Info("Duplicate webhook event dropped", zap.String("event_id", event.ID))
			return nil
		}
	}

	var err error
	switch event.Type {
	case gateway.EventPaymentSucceeded:
		err = r.HandlePaymentSuccess(ctx, event.Reference)
	case gateway.EventPaymentFailed:
		err = r.HandlePaymentFailure(ctx, event.Reference)
	default:
		r.logger.Info("Ignoring webhook event type", zap.String("type", event.Type))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "ok").Inc()
	if event.ID != "" {
		r.markProcessed(ctx, event.ID, event.Type)
	}
	return nil
}

// seenBefore consults the cache first and falls back to the processed-events
// table when the cache is absent or unavailable. Pure read: the event id is
// recorded only after successful handling, so a transient handling failure
// never turns the gateway's retry into a duplicate.
func (r *Reconciler) seenBefore(ctx context.Context, eventID string) (bool, error) {
	if r.cache != nil {
		seen, err := r.cache.IsEventSeen(ctx, eventID)
		if err == nil && seen {
			return true, nil
		}
		if err != nil {
			r.logger.Warn("Cache webhook dedup check failed, falling back to store", zap.Error(err))
		}
	}
	return r.store.IsEventProcessed(ctx, eventID)
}

// markProcessed records a handled event id in the store and the cache. Both
// writes are best effort; losing one only costs a redundant pass through the
// terminal-status guard.
func (r *Reconciler) markProcessed(ctx context.Context, eventID, eventType string) {
	if err := r.store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		r.logger.Error("Failed to mark webhook event processed", zap.Error(err))
	}
	if r.cache != nil {
		if err := r.cache.MarkEventSeen(ctx, eventID, webhookDedupTTL); err != nil {
			r.logger.Warn("Failed to record webhook event in cache", zap.Error(err))
		}
	}
}

// lock takes a best-effort per-reference lock; reconciliation proceeds even
// without it since the store guard is authoritative.
func (r *Reconciler) lock(ctx context.Context, reference string) func() {
	if r.cache == nil {
		return func() {}
	}
	ok, err := r.cache.AcquireLock(ctx, reference, paymentLockTTL)
	if err != nil || !ok {
		return func() {}
	}
	return func() {
		if err := r.cache.ReleaseLock(ctx, reference); err != nil {
			r.logger.Warn("Failed to release payment lock", zap.Error(err))
		}
	}
}
