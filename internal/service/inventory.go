package service

import (
	"context"
	"fmt"
	"time"

	"nexusmart/internal/models"
	"nexusmart/internal/store"
	"nexusmart/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger owns product stock. Stock never goes negative: decrements
// re-check availability under per-product locks inside the store and apply
// all lines or none.
type InventoryLedger struct {
	store  store.Store
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store store.Store) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		logger: util.GetLogger(),
	}
}

// CheckAvailability compares each requested line against current stock and
// returns a shortage for every line where available < requested. Pure read;
// an empty result means all lines are in stock.
func (il *InventoryLedger) CheckAvailability(ctx context.Context, lines []models.CartLine) ([]models.Shortage, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := il.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	var shortages []models.Shortage
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, line.ProductID)
		}
		if product.StockQuantity < line.Quantity {
			shortages = append(shortages, models.Shortage{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   line.Quantity,
				Available:   product.StockQuantity,
			})
		}
	}

	return shortages, nil
}

// Decrement atomically subtracts the requested quantities. Availability is
// re-checked at decrement time since it may have changed since CheckAvailability.
func (il *InventoryLedger) Decrement(ctx context.Context, lines []models.CartLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Decrement")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	return il.store.DecrementStock(ctx, lines)
}

// Restore atomically adds the quantities back after a failed or declined
// payment. Exactly-once invocation per order is the caller's responsibility;
// the ledger does not deduplicate.
func (il *InventoryLedger) Restore(ctx context.Context, lines []models.CartLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Restore")
	defer span.End()

	if err := il.store.RestoreStock(ctx, lines); err != nil {
		return err
	}

	util.StockRestoredTotal.Inc()
	il.logger.Info("Stock restored", zap.Int("lines", len(lines)))
	return nil
}
