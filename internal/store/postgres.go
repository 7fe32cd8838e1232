package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nexusmart/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is the production Store backed by PostgreSQL via sqlx.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (s *Postgres) Close() error {
	return s.db.Close()
}

// CreateProduct inserts a product (administrative path, also used for seeding)
func (s *Postgres) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, price, stock_quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, p, query, p.SKU, p.Name, p.Price, p.StockQuantity)
}

// GetProductByID retrieves a product by ID
func (s *Postgres) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Postgres) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetOrCreateCart returns the user's cart, creating it on first use. The
// insert-or-fetch is atomic so concurrent first requests cannot create two
// carts for one user.
func (s *Postgres) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return s.GetCartByUserID(ctx, userID)
}

// GetCartByUserID retrieves the user's cart
func (s *Postgres) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %d", models.ErrCartNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartLines retrieves the cart's line items
func (s *Postgres) GetCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id", cartID)
	return lines, err
}

// UpsertCartLine sets the quantity for a product in the cart
func (s *Postgres) UpsertCartLine(ctx context.Context, cartID, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		cartID, productID, quantity)
	return err
}

// ClearCart deletes every line in the cart; a no-op when already empty
func (s *Postgres) ClearCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}

// DecrementStock subtracts the requested quantities inside one transaction.
// Every product row is locked before the re-check, so two concurrent
// placements for the same last unit cannot both pass. Any shortage rolls the
// whole batch back and is reported as *models.InsufficientStockError.
func (s *Postgres) DecrementStock(ctx context.Context, lines []models.CartLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var shortages []models.Shortage

	for _, line := range lines {
		var row struct {
			Name  string `db:"name"`
			Stock int    `db:"stock_quantity"`
		}
		err := tx.GetContext(ctx, &row,
			"SELECT name, stock_quantity FROM products WHERE id = $1 FOR UPDATE", line.ProductID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", models.ErrProductNotFound, line.ProductID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock product %d: %w", line.ProductID, err)
		}

		if row.Stock < line.Quantity {
			shortages = append(shortages, models.Shortage{
				ProductID:   line.ProductID,
				ProductName: row.Name,
				Requested:   line.Quantity,
				Available:   row.Stock,
			})
			continue
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE products SET stock_quantity = stock_quantity - $1 WHERE id = $2",
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock for product %d: %w", line.ProductID, err)
		}
	}

	if len(shortages) > 0 {
		return &models.InsufficientStockError{Shortages: shortages} // rollback via defer
	}

	return tx.Commit()
}

// RestoreStock adds the quantities back inside one transaction (compensation)
func (s *Postgres) RestoreStock(ctx context.Context, lines []models.CartLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := restoreStockTx(ctx, tx, lines); err != nil {
		return err
	}

	return tx.Commit()
}

func restoreStockTx(ctx context.Context, tx *sqlx.Tx, lines []models.CartLine) error {
	for _, line := range lines {
		_, err := tx.ExecContext(ctx,
			"UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2",
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", line.ProductID, err)
		}
	}
	return nil
}
