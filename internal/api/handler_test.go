package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"
	"nexusmart/internal/service"
	"nexusmart/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type stubGateway struct {
	intents int
	verify  *gateway.Stripe
}

func (g *stubGateway) CreateIntent(_ context.Context, _ int64, _ string, _ int64) (*gateway.Intent, error) {
	g.intents++
	id := fmt.Sprintf("pi_test_%d", g.intents)
	return &gateway.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *stubGateway) VerifyWebhook(payload []byte, header string) (*gateway.Event, error) {
	return g.verify.VerifyWebhook(payload, header)
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }
func (noopPublisher) PublishOrderConfirmed(context.Context, *models.OrderConfirmedEvent) error {
	return nil
}
func (noopPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}

type apiEnv struct {
	store  *store.Memory
	router *gin.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	gw := &stubGateway{verify: gateway.NewStripe("", "sk_test", testWebhookSecret)}
	inventory := service.NewInventoryLedger(mem)
	carts := service.NewStoreCartReader(mem)
	orders := service.NewOrderService(mem, carts, inventory, gw, noopPublisher{}, "usd")
	reconciler := service.NewReconciler(mem, noopPublisher{}, nil)

	router := gin.New()
	NewHandler(orders, reconciler, gw).SetupRoutes(router)

	return &apiEnv{store: mem, router: router}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) seedCartWithProduct(t *testing.T, userID int64, price string, stock, qty int) *models.Product {
	t.Helper()
	ctx := context.Background()

	p := &models.Product{
		SKU:           "SKU-1",
		Name:          "widget",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	require.NoError(t, e.store.CreateProduct(ctx, p))

	cart, err := e.store.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, e.store.UpsertCartLine(ctx, cart.ID, p.ID, qty))
	return p
}

func TestPlaceOrderEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotZero(t, resp.OrderID)
	assert.Equal(t, "pi_test_1", resp.PaymentReference)
	assert.NotEmpty(t, resp.ClientSecret)

	order, err := env.store.GetOrderByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestPlaceOrderEndpointInsufficientStock(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 1, 100)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Error     string            `json:"error"`
		Shortages []models.Shortage `json:"shortages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Shortages, 1)
	assert.Equal(t, 100, resp.Shortages[0].Requested)
	assert.Equal(t, 1, resp.Shortages[0].Available)
}

func TestPlaceOrderEndpointEmptyCart(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/orders/place/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentSuccessEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = env.do(t, http.MethodPost, "/api/v1/orders/payment/success",
		gin.H{"payment_reference": placed.PaymentReference})
	require.Equal(t, http.StatusOK, w.Code)

	order, err := env.store.GetOrderByID(context.Background(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	// Missing body field
	w = env.do(t, http.MethodPost, "/api/v1/orders/payment/success", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown reference
	w = env.do(t, http.MethodPost, "/api/v1/orders/payment/success",
		gin.H{"payment_reference": "pi_missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentFailureEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	p := env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = env.do(t, http.MethodPost, "/api/v1/orders/payment/failure",
		gin.H{"payment_reference": placed.PaymentReference})
	require.Equal(t, http.StatusOK, w.Code)

	ctx := context.Background()
	order, err := env.store.GetOrderByID(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	prod, err := env.store.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, prod.StockQuantity)
}

func signWebhook(ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"%s","metadata":{"order_id":"%d"}}}}`,
		placed.PaymentReference, placed.OrderID))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhook(time.Now().Unix(), payload))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := env.store.GetOrderByID(context.Background(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
}

func TestWebhookEndpointBadSignature(t *testing.T) {
	env := newAPIEnv(t)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid signature")
}

func TestGetOrderEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", placed.OrderID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Order models.Order       `json:"order"`
		Lines []models.OrderLine `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, placed.OrderID, resp.Order.ID)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, 2, resp.Lines[0].Quantity)

	w = env.do(t, http.MethodGet, "/api/v1/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPaymentEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/payments/by-order/%d", placed.OrderID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payment models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	assert.Equal(t, placed.PaymentReference, payment.Reference)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)

	w = env.do(t, http.MethodGet, "/api/v1/payments/by-reference/"+placed.PaymentReference, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/payments/by-reference/pi_nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedCartWithProduct(t, 1, "10.00", 5, 2)

	w := env.do(t, http.MethodPost, "/api/v1/orders/place/1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.PlaceOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/status", placed.OrderID),
		gin.H{"status": models.OrderStatusConfirmed})
	require.Equal(t, http.StatusOK, w.Code)

	order, err := env.store.GetOrderByID(context.Background(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/status", placed.OrderID),
		gin.H{"status": "SHIPPED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ready", nil).Code)
}
