package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oakmart/storefront-backend/internal/entity"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ProductRepository handles persistence for Products. Stock adjustments are
// atomic at the storage layer so concurrent order writes cannot lose an
// update to the shared counter.
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Product, error)
	FindAll(ctx context.Context) ([]entity.Product, error)
	// Seed inserts initial products if none exist.
	Seed(ctx context.Context, products []entity.Product) error

	// DeductStock atomically subtracts qty from the product's stock,
	// clamping at zero. When the result is zero and backorders are
	// disallowed, the product's available flag is cleared in the same
	// write. Returns the updated product.
	DeductStock(ctx context.Context, id string, qty int) (*entity.Product, error)

	// RestoreStock atomically adds qty back and re-enables the available
	// flag. Returns the updated product.
	RestoreStock(ctx context.Context, id string, qty int) (*entity.Product, error)
}

// OrderRepository handles persistence for Orders.
type OrderRepository interface {
	// Create inserts the order. It is idempotent per order ID: a
	// redelivered command reports created=false instead of failing.
	Create(ctx context.Context, order *entity.Order) (created bool, err error)

	// UpdateStatus transitions the order and returns the snapshot that was
	// current before the write, so callers can reason about the
	// transition (including the item list that was actually deducted).
	UpdateStatus(ctx context.Context, id, status string) (prev *entity.Order, err error)

	FindByID(ctx context.Context, id string) (*entity.Order, error)
	FindRecent(ctx context.Context, limit int) ([]entity.Order, error)
}

// CartRepository handles persistence for abandoned-cart records. There is
// exactly one record per session ID.
type CartRepository interface {
	FindBySessionID(ctx context.Context, sessionID string) (*entity.AbandonedCart, error)

	// Upsert creates or replaces the snapshot for the cart's session.
	Upsert(ctx context.Context, cart *entity.AbandonedCart) error

	// Touch refreshes last_activity_at for the session's record.
	// Last-write-wins; concurrent heartbeats are harmless.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// FindStale returns up to limit records whose last activity predates
	// cutoff, oldest first: active carts, plus empty non-recovered ones
	// awaiting disposal. Non-empty carts already marked abandoned are not
	// returned, so repeated sweeps cannot re-process them or crowd newly
	// stale carts out of the batch.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]entity.AbandonedCart, error)

	// FindReminderCandidates returns up to limit carts sitting at
	// reminder stage stage-1, not recovered, whose last activity predates
	// activityBefore and whose last reminder (if any) predates sentBefore.
	// Sorted by staleness so the longest-waiting carts are served first.
	FindReminderCandidates(ctx context.Context, stage int, activityBefore, sentBefore time.Time, limit int) ([]entity.AbandonedCart, error)

	// MarkAbandoned flips an active record to abandoned and appends note
	// to its audit trail. Any other status makes the call a true no-op:
	// the note is not appended again.
	MarkAbandoned(ctx context.Context, id, note string, at time.Time) error

	// MarkRecovered terminally flips the session's record to recovered and
	// links the fulfilling order. A recovered record never reverts.
	MarkRecovered(ctx context.Context, sessionID, orderID string, at time.Time) error

	// ClaimReminderStage conditionally advances reminder_stage from
	// stage-1 to stage and stamps recovery_email_sent_at. The write is a
	// compare-and-swap: it reports claimed=false when another run got
	// there first or the cart has since been recovered. A still-active
	// cart is flipped to abandoned in the same write.
	ClaimReminderStage(ctx context.Context, id string, stage int, sentAt time.Time) (claimed bool, err error)

	// ReleaseReminderStage rolls a failed claim back to stage-1 and
	// restores recovery_email_sent_at to sentAt, the value current before
	// the claim, so the cart stays eligible for retry on the next run.
	ReleaseReminderStage(ctx context.Context, id string, stage int, sentAt *time.Time) error

	Delete(ctx context.Context, id string) error
}

// AnalyticsRepository serves the read-only admin report.
type AnalyticsRepository interface {
	Snapshot(ctx context.Context) (*entity.AnalyticsSnapshot, error)
}
