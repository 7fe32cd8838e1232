// Package gateway wraps the external payment processor. The orchestrator
// only depends on the Gateway interface; Stripe is the wire implementation.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Webhook event types surfaced to the reconciler.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// ErrSignatureInvalid means the webhook payload failed the authenticity
// check. Such payloads are rejected before any state mutation.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Error is a remote gateway failure. Placement treats it as fatal and rolls
// back any already-committed local state.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
}

// Intent is a created payment intent. The client secret goes back to the
// caller so the client can complete the payment; the ID is the opaque
// reference the gateway uses in callbacks.
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified webhook event.
type Event struct {
	ID        string
	Type      string
	OrderID   int64
	Reference string
}

// Gateway is the payment processor contract consumed by the orchestrator.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinorUnits int64, currency string, orderID int64) (*Intent, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}
