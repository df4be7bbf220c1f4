package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

const productColumns = "id, name, description, price, image_url, category, stock, track_inventory, low_stock_threshold, allow_backorders, available, reserved_stock"

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new ProductRepository backed by Postgres.
func NewProductRepository(db *sql.DB) repository.ProductRepository {
	return &productRepository{db: db}
}

func scanProduct(row interface{ Scan(...any) error }) (*entity.Product, error) {
	var p entity.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Category,
		&p.Inventory.Stock, &p.Inventory.TrackInventory, &p.Inventory.LowStockThreshold,
		&p.Inventory.AllowBackorders, &p.Inventory.Available, &p.Inventory.ReservedStock)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) FindByID(ctx context.Context, id string) (*entity.Product, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product %s: %w", id, err)
	}
	return p, nil
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (r *productRepository) Seed(ctx context.Context, products []entity.Product) error {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // already seeded
	}

	for _, p := range products {
		_, err := r.db.ExecContext(ctx,
			"INSERT INTO products ("+productColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
			p.ID, p.Name, p.Description, p.Price, p.ImageURL, p.Category,
			p.Inventory.Stock, p.Inventory.TrackInventory, p.Inventory.LowStockThreshold,
			p.Inventory.AllowBackorders, p.Inventory.Available, p.Inventory.ReservedStock,
		)
		if err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

// DeductStock subtracts in a single UPDATE so two concurrent order writes
// for the same product cannot lose an update (no read-modify-write).
func (r *productRepository) DeductStock(ctx context.Context, id string, qty int) (*entity.Product, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE products SET
			stock = GREATEST(0, stock - $2),
			available = CASE
				WHEN NOT allow_backorders AND GREATEST(0, stock - $2) = 0 THEN FALSE
				ELSE available
			END
		WHERE id = $1
		RETURNING `+productColumns,
		id, qty)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct stock for %s: %w", id, err)
	}
	return p, nil
}

// RestoreStock adds the quantity back and always re-enables availability.
func (r *productRepository) RestoreStock(ctx context.Context, id string, qty int) (*entity.Product, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE products SET
			stock = stock + $2,
			available = TRUE
		WHERE id = $1
		RETURNING `+productColumns,
		id, qty)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore stock for %s: %w", id, err)
	}
	return p, nil
}
