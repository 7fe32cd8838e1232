package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	OrdersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of orders confirmed after payment",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled after payment failure",
	})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_decrement_latency_seconds",
		Help:    "Latency of inventory decrement operations",
		Buckets: prometheus.DefBuckets,
	})

	StockRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_total",
		Help: "Total number of stock restorations (compensations)",
	})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Total number of payment intent creation attempts",
	}, []string{"outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of gateway webhook events received",
	}, []string{"type", "outcome"})

	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Total number of webhook payloads rejected for bad signatures",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
