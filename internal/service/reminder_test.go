package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository/memory"
)

func newReminderFixture(t *testing.T) (*ReminderService, *memory.CartStore, *memory.ProductStore, *fakeMailer, *fakePublisher) {
	t.Helper()
	carts := memory.NewCartStore()
	products := memory.NewProductStore()
	require.NoError(t, products.Seed(context.Background(), []entity.Product{
		{ID: "prod-001", Name: "Headphones", Price: 349.99,
			Inventory: entity.Inventory{Stock: 10, TrackInventory: true, Available: true}},
	}))
	mailer := &fakeMailer{}
	pub := &fakePublisher{}
	svc := NewReminderService(carts, products, mailer, pub, "https://shop.example.com")
	svc.now = fixedClock(baseTime)
	return svc, carts, products, mailer, pub
}

func abandonedCart(sessionID, email string, stage int, lastActivity time.Time, sentAt *time.Time) entity.AbandonedCart {
	return entity.AbandonedCart{
		ID:                  "cart-" + sessionID,
		SessionID:           sessionID,
		CustomerName:        "Ada",
		CustomerEmail:       email,
		Items:               []entity.CartLine{{ProductID: "prod-001", Quantity: 2}},
		CartTotal:           699.98,
		Status:              entity.CartAbandoned,
		ReminderStage:       stage,
		LastActivityAt:      lastActivity,
		RecoveryEmailSentAt: sentAt,
	}
}

func TestReminderFirstStageAfter24h(t *testing.T) {
	svc, carts, _, mailer, pub := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	results := svc.Run(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Sent)
	assert.Equal(t, 0, results[1].Sent)
	assert.Equal(t, 0, results[2].Sent)
	assert.Equal(t, 1, mailer.count())

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderStage)
	require.NotNil(t, got.RecoveryEmailSentAt)
	assert.Equal(t, baseTime, *got.RecoveryEmailSentAt)

	assert.Contains(t, pub.topics(), "reminders.sent")
}

func TestReminderNotBefore24hInactivity(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-23*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	assert.Equal(t, 0, mailer.count())

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReminderStage)
}

func TestReminderStageTwoNeedsInterReminderGap(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	// Inactive long enough for stage 2, but stage 1 went out only 2h ago.
	recent := baseTime.Add(-2 * time.Hour)
	cart := abandonedCart("sess-1", "ada@example.com", 1, baseTime.Add(-50*time.Hour), &recent)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	assert.Equal(t, 0, mailer.count())

	// Once 24h have passed since the stage-1 send, stage 2 goes out.
	svc.now = fixedClock(baseTime.Add(23 * time.Hour))
	svc.Run(context.Background())
	assert.Equal(t, 1, mailer.count())

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReminderStage)
}

func TestReminderStagesNeverSkipOrRepeat(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	// Very old cart: eligible by inactivity for every stage. Stage 1 sends,
	// then the fresh sentAt stamp blocks stages 2 and 3 within the same run.
	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-200*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	assert.Equal(t, 1, mailer.count())

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderStage)

	// Re-running immediately sends nothing more.
	svc.Run(context.Background())
	assert.Equal(t, 1, mailer.count())
}

func TestReminderThreeStageProgressionThenStops(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	for day := 0; day < 5; day++ {
		svc.now = fixedClock(baseTime.Add(time.Duration(day) * 25 * time.Hour))
		svc.Run(context.Background())
	}

	assert.Equal(t, 3, mailer.count(), "exactly three reminders, then silence")
	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReminderStage)
}

func TestReminderSendFailureDoesNotConsumeStage(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)
	mailer.fail = true

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	results := svc.Run(context.Background())
	assert.Equal(t, 0, results[0].Sent)
	assert.NotEmpty(t, results[0].Errors)

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReminderStage, "failed send keeps the cart eligible")

	// Next run with a healthy mailer retries stage 1.
	mailer.fail = false
	svc.Run(context.Background())
	assert.Equal(t, 1, mailer.count())
}

func TestReminderStageTwoFailureRetriesNextRun(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)
	mailer.fail = true

	// Stage 1 went out 25h ago; the cart is due for stage 2 now.
	stage1At := baseTime.Add(-25 * time.Hour)
	cart := abandonedCart("sess-1", "ada@example.com", 1, baseTime.Add(-50*time.Hour), &stage1At)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	assert.Equal(t, 0, mailer.count())

	got, err := carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderStage)
	require.NotNil(t, got.RecoveryEmailSentAt)
	assert.Equal(t, stage1At, *got.RecoveryEmailSentAt,
		"rollback restores the stage-1 stamp so the gap filter still sees it")

	// The very next run retries stage 2; the failed attempt must not have
	// pushed the retry out by another day.
	mailer.fail = false
	svc.now = fixedClock(baseTime.Add(5 * time.Minute))
	svc.Run(context.Background())
	assert.Equal(t, 1, mailer.count())

	got, err = carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReminderStage)
}

func TestReminderSkipsInvalidEmail(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "not-an-email", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	results := svc.Run(context.Background())
	assert.Equal(t, 0, results[0].Attempted, "malformed address is excluded, not an error")
	assert.Empty(t, results[0].Errors)
	assert.Equal(t, 0, mailer.count())
}

func TestReminderSkipsRecoveredCarts(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))
	require.NoError(t, carts.MarkRecovered(context.Background(), "sess-1", "order-1", baseTime))

	svc.Run(context.Background())
	assert.Equal(t, 0, mailer.count())
}

func TestReminderClaimLosesToConcurrentRun(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	// Simulate an overlapping run that claimed the stage between our query
	// and our claim.
	claimed, err := carts.ClaimReminderStage(context.Background(), cart.ID, 1, baseTime)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = carts.ClaimReminderStage(context.Background(), cart.ID, 1, baseTime)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same stage must fail")

	svc.Run(context.Background())
	assert.Equal(t, 0, mailer.count())
}

func TestReminderFallsBackToSnapshotTotal(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	cart.Items = []entity.CartLine{{ProductID: "prod-deleted", Quantity: 2}}
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	require.Equal(t, 1, mailer.count())
	assert.Contains(t, mailer.sent[0].Text, "699.98", "stored snapshot total used when products are unresolvable")
}

func TestReminderEmailContent(t *testing.T) {
	svc, carts, _, mailer, _ := newReminderFixture(t)

	cart := abandonedCart("sess-1", "ada@example.com", 0, baseTime.Add(-25*time.Hour), nil)
	require.NoError(t, carts.Upsert(context.Background(), &cart))

	svc.Run(context.Background())
	require.Equal(t, 1, mailer.count())
	msg := mailer.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.HTML, "Headphones")
	assert.Contains(t, msg.HTML, "Ada")
	assert.Contains(t, msg.HTML, "https://shop.example.com/checkout?session=sess-1")
	assert.Contains(t, msg.Text, "Headphones x2")
}
