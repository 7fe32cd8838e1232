package service

import (
	"context"
	"fmt"

	"nexusmart/internal/models"
	"nexusmart/internal/store"
)

// StoreCartReader reads cart snapshots straight from the store.
type StoreCartReader struct {
	store store.Store
}

var _ CartReader = (*StoreCartReader)(nil)

// NewStoreCartReader creates a cart reader over the given store
func NewStoreCartReader(store store.Store) *StoreCartReader {
	return &StoreCartReader{store: store}
}

// Lines returns the user's cart lines at this instant.
func (r *StoreCartReader) Lines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	cart, err := r.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.store.GetCartLines(ctx, cart.ID)
}

// Clear removes every line from the user's cart.
func (r *StoreCartReader) Clear(ctx context.Context, userID int64) error {
	cart, err := r.store.GetCartByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if err := r.store.ClearCart(ctx, cart.ID); err != nil {
		return fmt.Errorf("failed to clear cart %d: %w", cart.ID, err)
	}
	return nil
}
