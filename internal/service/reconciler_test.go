package service

import (
	"context"
	"testing"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeTestOrder(t *testing.T, env *testEnv, stock int) (orderID int64, reference string, productID int64) {
	t.Helper()

	product := env.seedProduct(t, "widget", "12.50", stock)
	env.seedCart(t, 1, map[int64]int{product.ID: 2})

	resp, err := env.orders.PlaceOrder(context.Background(), 1)
	require.NoError(t, err)
	return resp.OrderID, resp.PaymentReference, product.ID
}

func TestHandlePaymentSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, productID := placeTestOrder(t, env, 5)

	require.NoError(t, env.reconciler.HandlePaymentSuccess(ctx, reference))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	payment, err := env.orders.GetPaymentByReference(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.PaidAt)

	// Stock stays decremented on success
	assert.Equal(t, 3, env.stockOf(t, productID))

	require.Len(t, env.events.confirmed, 1)
	assert.Equal(t, orderID, env.events.confirmed[0].OrderID)
}

func TestHandlePaymentSuccessIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, productID := placeTestOrder(t, env, 5)

	require.NoError(t, env.reconciler.HandlePaymentSuccess(ctx, reference))
	payment, err := env.orders.GetPaymentByReference(ctx, reference)
	require.NoError(t, err)
	firstPaidAt := payment.PaidAt

	// Replay: same final state, no second event
	require.NoError(t, env.reconciler.HandlePaymentSuccess(ctx, reference))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	payment, err = env.orders.GetPaymentByReference(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, firstPaidAt, payment.PaidAt)
	assert.Equal(t, 3, env.stockOf(t, productID))
	assert.Len(t, env.events.confirmed, 1)
}

func TestHandlePaymentFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, productID := placeTestOrder(t, env, 5)
	require.Equal(t, 3, env.stockOf(t, productID))

	require.NoError(t, env.reconciler.HandlePaymentFailure(ctx, reference))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	payment, err := env.orders.GetPaymentByReference(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Nil(t, payment.PaidAt)

	// Stock restored to its pre-order value from the captured lines
	assert.Equal(t, 5, env.stockOf(t, productID))

	require.Len(t, env.events.cancelled, 1)
	assert.Equal(t, orderID, env.events.cancelled[0].OrderID)
	assert.Equal(t, "payment_failed", env.events.cancelled[0].Reason)
}

func TestHandlePaymentFailureIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, reference, productID := placeTestOrder(t, env, 5)

	require.NoError(t, env.reconciler.HandlePaymentFailure(ctx, reference))
	assert.Equal(t, 5, env.stockOf(t, productID))

	// A replayed failure must not restore stock a second time
	require.NoError(t, env.reconciler.HandlePaymentFailure(ctx, reference))
	assert.Equal(t, 5, env.stockOf(t, productID))
	assert.Len(t, env.events.cancelled, 1)
}

func TestHandlePaymentFailureAfterSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, productID := placeTestOrder(t, env, 5)

	require.NoError(t, env.reconciler.HandlePaymentSuccess(ctx, reference))

	// A late failure callback for a confirmed order must not cancel or restore
	require.NoError(t, env.reconciler.HandlePaymentFailure(ctx, reference))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, 3, env.stockOf(t, productID))
}

func TestHandlePaymentUnknownReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.reconciler.HandlePaymentSuccess(ctx, "pi_missing"), models.ErrPaymentNotFound)
	assert.ErrorIs(t, env.reconciler.HandlePaymentFailure(ctx, "pi_missing"), models.ErrPaymentNotFound)
	assert.ErrorIs(t, env.reconciler.HandlePaymentSuccess(ctx, "  "), models.ErrInvalidArgument)
}

func TestHandleWebhookEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, _ := placeTestOrder(t, env, 5)

	event := &gateway.Event{
		ID:        "evt_1",
		Type:      gateway.EventPaymentSucceeded,
		OrderID:   orderID,
		Reference: reference,
	}
	require.NoError(t, env.reconciler.HandleWebhookEvent(ctx, event))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	// Replay of the same event id is dropped before reaching the store
	require.NoError(t, env.reconciler.HandleWebhookEvent(ctx, event))
	assert.Len(t, env.events.confirmed, 1)

	// Unknown event types are acknowledged and ignored
	require.NoError(t, env.reconciler.HandleWebhookEvent(ctx, &gateway.Event{
		ID:   "evt_2",
		Type: "payment_intent.created",
	}))
}

func TestHandleWebhookEventRetryAfterTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cache := newFakeReplayCache()
	flaky := &flakyStore{Store: env.store, failFinalizeSuccess: 1}
	reconciler := NewReconciler(flaky, env.events, cache)

	orderID, reference, _ := placeTestOrder(t, env, 5)
	event := &gateway.Event{
		ID:        "evt_retry",
		Type:      gateway.EventPaymentSucceeded,
		OrderID:   orderID,
		Reference: reference,
	}

	// First delivery hits a transient store error. The event id must not be
	// recorded anywhere, or the gateway's retry would be dropped.
	require.Error(t, reconciler.HandleWebhookEvent(ctx, event))

	seen, err := cache.IsEventSeen(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = env.store.IsEventProcessed(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, seen)

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	// The retry must go through and only then record the event id.
	require.NoError(t, reconciler.HandleWebhookEvent(ctx, event))

	order, _, err = env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	seen, err = cache.IsEventSeen(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = env.store.IsEventProcessed(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, seen)

	// A replay after success is dropped by the cache fast path.
	require.NoError(t, reconciler.HandleWebhookEvent(ctx, event))
	assert.Len(t, env.events.confirmed, 1)
}

func TestHandleWebhookEventFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderID, reference, productID := placeTestOrder(t, env, 5)

	require.NoError(t, env.reconciler.HandleWebhookEvent(ctx, &gateway.Event{
		ID:        "evt_fail_1",
		Type:      gateway.EventPaymentFailed,
		OrderID:   orderID,
		Reference: reference,
	}))

	order, _, err := env.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 5, env.stockOf(t, productID))
}
