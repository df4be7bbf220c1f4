package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

const cartColumns = "id, session_id, user_id, customer_name, customer_email, customer_number, items, cart_total, status, reminder_stage, last_activity_at, recovered_order, recovery_email_sent_at, notes, created_at, updated_at"

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new CartRepository backed by Postgres.
func NewCartRepository(db *sql.DB) repository.CartRepository {
	return &cartRepository{db: db}
}

func scanCart(row interface{ Scan(...any) error }) (*entity.AbandonedCart, error) {
	var c entity.AbandonedCart
	var items []byte
	var sentAt sql.NullTime
	err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &c.CustomerName, &c.CustomerEmail,
		&c.CustomerNumber, &items, &c.CartTotal, &c.Status, &c.ReminderStage,
		&c.LastActivityAt, &c.RecoveredOrder, &sentAt, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("failed to decode cart items: %w", err)
	}
	if sentAt.Valid {
		t := sentAt.Time
		c.RecoveryEmailSentAt = &t
	}
	return &c, nil
}

func (r *cartRepository) FindBySessionID(ctx context.Context, sessionID string) (*entity.AbandonedCart, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+cartColumns+" FROM abandoned_carts WHERE session_id = $1", sessionID)
	c, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cart for session %s: %w", sessionID, err)
	}
	return c, nil
}

func (r *cartRepository) Upsert(ctx context.Context, cart *entity.AbandonedCart) error {
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to encode cart items: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO abandoned_carts (`+cartColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			customer_name = EXCLUDED.customer_name,
			customer_email = EXCLUDED.customer_email,
			customer_number = EXCLUDED.customer_number,
			items = EXCLUDED.items,
			cart_total = EXCLUDED.cart_total,
			status = EXCLUDED.status,
			last_activity_at = EXCLUDED.last_activity_at,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`,
		cart.ID, cart.SessionID, cart.UserID, cart.CustomerName, cart.CustomerEmail,
		cart.CustomerNumber, items, cart.CartTotal, cart.Status, cart.ReminderStage,
		cart.LastActivityAt, cart.RecoveredOrder, cart.RecoveryEmailSentAt, cart.Notes,
		cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cart for session %s: %w", cart.SessionID, err)
	}
	return nil
}

func (r *cartRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE abandoned_carts SET last_activity_at = $2, updated_at = $2 WHERE session_id = $1",
		sessionID, at)
	if err != nil {
		return fmt.Errorf("failed to touch cart for session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindStale selects active carts plus empty leftovers of any non-recovered
// status. Non-empty carts already marked abandoned are excluded: re-selecting
// them every sweep would re-count and re-announce them and, once enough
// accumulate, starve newly-stale carts out of the batch.
func (r *cartRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.AbandonedCart, error) {
	return r.queryCarts(ctx, `
		SELECT `+cartColumns+` FROM abandoned_carts
		WHERE status <> 'recovered'
		  AND (status = 'active' OR items = '[]'::jsonb)
		  AND last_activity_at < $1
		ORDER BY last_activity_at ASC LIMIT $2`,
		cutoff, limit)
}

func (r *cartRepository) FindReminderCandidates(ctx context.Context, stage int, activityBefore, sentBefore time.Time, limit int) ([]entity.AbandonedCart, error) {
	return r.queryCarts(ctx, `
		SELECT `+cartColumns+` FROM abandoned_carts
		WHERE reminder_stage = $1
		  AND status <> 'recovered'
		  AND customer_email <> ''
		  AND last_activity_at < $2
		  AND (recovery_email_sent_at IS NULL OR recovery_email_sent_at < $3)
		ORDER BY last_activity_at ASC LIMIT $4`,
		stage-1, activityBefore, sentBefore, limit)
}

func (r *cartRepository) queryCarts(ctx context.Context, query string, args ...any) ([]entity.AbandonedCart, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query carts: %w", err)
	}
	defer rows.Close()

	var carts []entity.AbandonedCart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		carts = append(carts, *c)
	}
	return carts, rows.Err()
}

func (r *cartRepository) MarkAbandoned(ctx context.Context, id, note string, at time.Time) error {
	// Guarded to the active->abandoned transition so a repeated call
	// cannot append the audit note again.
	_, err := r.db.ExecContext(ctx, `
		UPDATE abandoned_carts SET
			status = 'abandoned',
			notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at = $3
		WHERE id = $1 AND status = 'active'`,
		id, note, at)
	if err != nil {
		return fmt.Errorf("failed to mark cart %s abandoned: %w", id, err)
	}
	return nil
}

func (r *cartRepository) MarkRecovered(ctx context.Context, sessionID, orderID string, at time.Time) error {
	// Recovered is terminal: an already-recovered record is never touched.
	_, err := r.db.ExecContext(ctx, `
		UPDATE abandoned_carts SET
			status = 'recovered',
			recovered_order = $2,
			notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
			updated_at = $4
		WHERE session_id = $1 AND status <> 'recovered'`,
		sessionID, orderID, "recovered by order "+orderID, at)
	if err != nil {
		return fmt.Errorf("failed to mark cart recovered for session %s: %w", sessionID, err)
	}
	return nil
}

// ClaimReminderStage is a compare-and-swap on reminder_stage: only one of
// two overlapping scheduler runs can observe stage-1 and win the write.
func (r *cartRepository) ClaimReminderStage(ctx context.Context, id string, stage int, sentAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE abandoned_carts SET
			reminder_stage = $2,
			recovery_email_sent_at = $3,
			status = CASE WHEN status = 'active' THEN 'abandoned' ELSE status END,
			updated_at = $3
		WHERE id = $1 AND reminder_stage = $4 AND status <> 'recovered'`,
		id, stage, sentAt, stage-1)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder stage %d for cart %s: %w", stage, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseReminderStage undoes a claim whose send failed. The claim stamped
// recovery_email_sent_at, so the rollback must restore the pre-claim value
// or the inter-reminder gap filter would push the retry out a full day.
func (r *cartRepository) ReleaseReminderStage(ctx context.Context, id string, stage int, sentAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE abandoned_carts SET reminder_stage = $2, recovery_email_sent_at = $3 WHERE id = $1 AND reminder_stage = $4",
		id, stage-1, sentAt, stage)
	if err != nil {
		return fmt.Errorf("failed to release reminder stage %d for cart %s: %w", stage, id, err)
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM abandoned_carts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete cart %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
