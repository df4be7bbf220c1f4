package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

type analyticsRepository struct {
	db *sql.DB
}

// NewAnalyticsRepository creates the read-only reporting repository.
func NewAnalyticsRepository(db *sql.DB) repository.AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) Snapshot(ctx context.Context) (*entity.AnalyticsSnapshot, error) {
	var snap entity.AnalyticsSnapshot

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'abandoned'),
			COUNT(*) FILTER (WHERE status = 'recovered'),
			COUNT(*) FILTER (WHERE reminder_stage >= 1),
			COUNT(*) FILTER (WHERE reminder_stage >= 2),
			COUNT(*) FILTER (WHERE reminder_stage >= 3)
		FROM abandoned_carts`,
	).Scan(&snap.ActiveCarts, &snap.AbandonedCarts, &snap.RecoveredCarts,
		&snap.RemindersByStage[0], &snap.RemindersByStage[1], &snap.RemindersByStage[2])
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cart stats: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(o.total_price), 0)
		FROM abandoned_carts c
		JOIN orders o ON o.id = c.recovered_order
		WHERE c.status = 'recovered'`,
	).Scan(&snap.RecoveredRevenue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recovered revenue: %w", err)
	}

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&snap.OrdersTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	if closed := snap.AbandonedCarts + snap.RecoveredCarts; closed > 0 {
		snap.RecoveryRate = float64(snap.RecoveredCarts) / float64(closed)
	}
	return &snap, nil
}
