package service

import (
	"context"
	"time"

	"nexusmart/internal/models"
)

// CartReader is the cart collaborator consumed at checkout. Cart CRUD itself
// lives elsewhere; the orchestrator only snapshots and clears.
type CartReader interface {
	// Lines returns the user's current cart lines. Fails with
	// models.ErrCartNotFound when the user has no cart.
	Lines(ctx context.Context, userID int64) ([]models.CartLine, error)
	// Clear deletes every line atomically; a no-op when already empty.
	Clear(ctx context.Context, userID int64) error
}

// EventPublisher publishes order lifecycle events for downstream consumers.
// Publishing is best effort: a broker outage never fails the workflow.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// ReplayCache is the optional fast path in front of the store's replay
// bookkeeping: webhook event ids and short-lived per-reference locks. The
// store transaction guard stays authoritative, so every method is best
// effort. An event id is marked seen only after the event has been handled;
// a transient handling failure must leave the id unrecorded so the gateway's
// retry is not dropped.
type ReplayCache interface {
	IsEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error
	AcquireLock(ctx context.Context, reference string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, reference string) error
}
