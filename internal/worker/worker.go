package worker

import (
	"context"

	"nexusmart/internal/broker"
	"nexusmart/internal/service"
	"nexusmart/internal/util"

	"go.uber.org/zap"
)

// PaymentEventsWorker consumes payment outcome events from Kafka and feeds
// them into the reconciler. Together with the HTTP webhook it forms the
// asynchronous reconciliation channel.
type PaymentEventsWorker struct {
	consumer *broker.Consumer
	handler  *broker.PaymentEventHandler
	logger   *zap.Logger
}

// NewPaymentEventsWorker creates a new worker bound to the reconciler
func NewPaymentEventsWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *PaymentEventsWorker {
	handler := broker.NewPaymentEventHandler()
	handler.OnPaymentSuccess(reconciler.HandlePaymentSuccess)
	handler.OnPaymentFailed(reconciler.HandlePaymentFailure)

	return &PaymentEventsWorker{
		consumer: consumer,
		handler:  handler,
		logger:   util.GetLogger(),
	}
}

// Start starts consuming; blocks until the context is cancelled
func (w *PaymentEventsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment events worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentEventsWorker) Stop() error {
	w.logger.Info("Stopping payment events worker")
	return w.consumer.Close()
}
