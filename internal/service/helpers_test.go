package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"
	"nexusmart/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-process Gateway for tests. Intent ids are
// deterministic per test run.
type fakeGateway struct {
	mu         sync.Mutex
	failCreate bool
	created    int
	amounts    []int64
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinorUnits int64, currency string, orderID int64) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failCreate {
		return nil, &gateway.Error{Op: "create intent", StatusCode: 503, Message: "unavailable"}
	}
	g.created++
	g.amounts = append(g.amounts, amountMinorUnits)
	id := fmt.Sprintf("pi_test_%d", g.created)
	return &gateway.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*gateway.Event, error) {
	return nil, gateway.ErrSignatureInvalid
}

// recordingPublisher collects published events instead of talking to Kafka.
type recordingPublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	confirmed []*models.OrderConfirmedEvent
	cancelled []*models.OrderCancelledEvent
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *recordingPublisher) PublishOrderConfirmed(_ context.Context, e *models.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

// fakeReplayCache is an in-process ReplayCache.
type fakeReplayCache struct {
	mu    sync.Mutex
	seen  map[string]bool
	locks map[string]bool
}

func newFakeReplayCache() *fakeReplayCache {
	return &fakeReplayCache{seen: make(map[string]bool), locks: make(map[string]bool)}
}

func (c *fakeReplayCache) IsEventSeen(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[eventID], nil
}

func (c *fakeReplayCache) MarkEventSeen(_ context.Context, eventID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[eventID] = true
	return nil
}

func (c *fakeReplayCache) AcquireLock(_ context.Context, reference string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[reference] {
		return false, nil
	}
	c.locks[reference] = true
	return true, nil
}

func (c *fakeReplayCache) ReleaseLock(_ context.Context, reference string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, reference)
	return nil
}

// flakyStore fails FinalizePaymentSuccess a configured number of times before
// delegating, simulating transient database errors.
type flakyStore struct {
	store.Store
	failFinalizeSuccess int
}

func (s *flakyStore) FinalizePaymentSuccess(ctx context.Context, reference string, paidAt time.Time) (*models.Payment, bool, error) {
	if s.failFinalizeSuccess > 0 {
		s.failFinalizeSuccess--
		return nil, false, errors.New("connection reset by peer")
	}
	return s.Store.FinalizePaymentSuccess(ctx, reference, paidAt)
}

// failingCartReader delegates reads and fails Clear on demand.
type failingCartReader struct {
	inner     CartReader
	failClear bool
}

func (r *failingCartReader) Lines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return r.inner.Lines(ctx, userID)
}

func (r *failingCartReader) Clear(ctx context.Context, userID int64) error {
	if r.failClear {
		return errors.New("connection reset by peer")
	}
	return r.inner.Clear(ctx, userID)
}

type testEnv struct {
	store      *store.Memory
	gateway    *fakeGateway
	events     *recordingPublisher
	orders     *OrderService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemory()
	gw := &fakeGateway{}
	events := &recordingPublisher{}
	carts := NewStoreCartReader(mem)
	inventory := NewInventoryLedger(mem)

	return &testEnv{
		store:      mem,
		gateway:    gw,
		events:     events,
		orders:     NewOrderService(mem, carts, inventory, gw, events, "usd"),
		reconciler: NewReconciler(mem, events, nil),
	}
}

func (e *testEnv) seedProduct(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()

	p := &models.Product{
		SKU:           "SKU-" + name,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func (e *testEnv) seedCart(t *testing.T, userID int64, lines map[int64]int) {
	t.Helper()

	ctx := context.Background()
	cart, err := e.store.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	for productID, qty := range lines {
		require.NoError(t, e.store.UpsertCartLine(ctx, cart.ID, productID, qty))
	}
}

func (e *testEnv) stockOf(t *testing.T, productID int64) int {
	t.Helper()

	p, err := e.store.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}
