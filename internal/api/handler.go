package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"nexusmart/internal/gateway"
	"nexusmart/internal/models"
	"nexusmart/internal/service"
	"nexusmart/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders     *service.OrderService
	reconciler *service.Reconciler
	gateway    gateway.Gateway
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, reconciler *service.Reconciler, gw gateway.Gateway) *Handler {
	return &Handler{
		orders:     orders,
		reconciler: reconciler,
		gateway:    gw,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/place/:userId", h.placeOrder)
		v1.GET("/orders", h.getAllOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/user/:userId", h.getUserOrders)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/payment/success", h.paymentSuccess)
		v1.POST("/orders/payment/failure", h.paymentFailure)

		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.GET("/payments/by-order/:orderId", h.getPaymentByOrder)
		v1.GET("/payments/by-reference/:reference", h.getPaymentByReference)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// placeOrder converts the user's cart into an order
func (h *Handler) placeOrder(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	resp, err := h.orders.PlaceOrder(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, lines, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"lines": lines,
	})
}

// getAllOrders lists every order
func (h *Handler) getAllOrders(c *gin.Context) {
	orders, err := h.orders.GetAllOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getUserOrders lists orders for one user
func (h *Handler) getUserOrders(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	orders, err := h.orders.GetUserOrders(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// updateOrderStatus is the administrative status override
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	if err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, req.Status); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "order status updated",
		"order_id":   orderID,
		"new_status": req.Status,
	})
}

type paymentCallbackRequest struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
}

// paymentSuccess is the direct success notification endpoint
func (h *Handler) paymentSuccess(c *gin.Context) {
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_reference is required"})
		return
	}

	if err := h.reconciler.HandlePaymentSuccess(c.Request.Context(), req.PaymentReference); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "payment success processed",
		"payment_reference": req.PaymentReference,
	})
}

// paymentFailure is the direct failure notification endpoint
func (h *Handler) paymentFailure(c *gin.Context) {
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_reference is required"})
		return
	}

	if err := h.reconciler.HandlePaymentFailure(c.Request.Context(), req.PaymentReference); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "payment failure processed",
		"payment_reference": req.PaymentReference,
	})
}

// paymentWebhook receives signed gateway callbacks. Only payloads that pass
// signature verification reach the reconciler.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			util.WebhookSignatureFailures.Inc()
			h.logger.Warn("Rejected webhook with invalid signature",
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.reconciler.HandleWebhookEvent(c.Request.Context(), event); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "type": event.Type})
}

// getPaymentByOrder retrieves the payment for an order
func (h *Handler) getPaymentByOrder(c *gin.Context) {
	orderID, ok := pathID(c, "orderId")
	if !ok {
		return
	}

	payment, err := h.orders.GetPaymentByOrderID(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// getPaymentByReference retrieves a payment by gateway reference
func (h *Handler) getPaymentByReference(c *gin.Context) {
	payment, err := h.orders.GetPaymentByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var stockErr *models.InsufficientStockError
	var gatewayErr *gateway.Error

	switch {
	case errors.Is(err, models.ErrEmptyCart), errors.Is(err, models.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     stockErr.Error(),
			"shortages": stockErr.Shortages,
		})
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrPaymentNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrCartNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
