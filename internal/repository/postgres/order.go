package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by Postgres.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *entity.Order) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ON CONFLICT for idempotency: if the command is redelivered we skip
	// the insert instead of failing with a duplicate key error.
	var inserted bool
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (id, session_id, customer_email, total_price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING RETURNING true`,
		order.ID, order.SessionID, order.CustomerEmail, order.TotalPrice, order.Status, order.CreatedAt,
	).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, name, price, quantity) VALUES ($1, $2, $3, $4, $5)",
			order.ID, item.ProductID, item.Name, item.Price, item.Quantity,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// UpdateStatus writes the new status and returns the order as it stood
// before the write. The previous item snapshot is what the inventory hook
// needs for restores.
func (r *orderRepository) UpdateStatus(ctx context.Context, id, status string) (*entity.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev entity.Order
	err = tx.QueryRowContext(ctx,
		"SELECT id, session_id, customer_email, total_price, status, created_at FROM orders WHERE id = $1 FOR UPDATE",
		id,
	).Scan(&prev.ID, &prev.SessionID, &prev.CustomerEmail, &prev.TotalPrice, &prev.Status, &prev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	itemRows, err := tx.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	for itemRows.Next() {
		var item entity.OrderItem
		if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			itemRows.Close()
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		prev.Items = append(prev.Items, item)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE orders SET status = $2 WHERE id = $1", id, status); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &prev, nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	var o entity.Order
	err := r.db.QueryRowContext(ctx,
		"SELECT id, session_id, customer_email, total_price, status, created_at FROM orders WHERE id = $1", id,
	).Scan(&o.ID, &o.SessionID, &o.CustomerEmail, &o.TotalPrice, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", id, err)
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) FindRecent(ctx context.Context, limit int) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, session_id, customer_email, total_price, status, created_at FROM orders ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []entity.Order
	for rows.Next() {
		var o entity.Order
		if err := rows.Scan(&o.ID, &o.SessionID, &o.CustomerEmail, &o.TotalPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, o *entity.Order) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1", o.ID)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item entity.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}
