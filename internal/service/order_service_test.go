package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/messaging"
	"github.com/oakmart/storefront-backend/internal/repository/memory"
)

type orderFixture struct {
	orders   *memory.OrderStore
	carts    *memory.CartStore
	products *memory.ProductStore
	pub      *fakePublisher
	svc      *OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:   memory.NewOrderStore(),
		carts:    memory.NewCartStore(),
		products: memory.NewProductStore(),
		pub:      &fakePublisher{},
	}
	require.NoError(t, f.products.Seed(context.Background(), []entity.Product{
		testProduct("p1", 10, 2, false),
	}))
	inventory := NewInventoryService(f.products, f.pub, nil, "")
	f.svc = NewOrderService(f.orders, f.carts, inventory, f.pub)
	f.svc.now = fixedClock(baseTime)
	return f
}

func TestPlaceOrderComputesTotalAndDeductsStock(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{
		OrderID: "order-1",
		Items:   []entity.OrderItem{{ProductID: "p1", Name: "Widget p1", Price: 10, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OrderPending, order.Status)
	assert.Equal(t, 30.0, order.TotalPrice)

	p, err := f.products.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Inventory.Stock)

	assert.Contains(t, f.pub.topics(), messaging.TopicOrdersPlaced)
}

func TestPlaceOrderIsIdempotentPerID(t *testing.T) {
	f := newOrderFixture(t)
	cmd := &PlaceOrderCommand{
		OrderID: "order-1",
		Items:   []entity.OrderItem{{ProductID: "p1", Name: "Widget p1", Price: 10, Quantity: 3}},
	}

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(context.Background(), cmd)
	require.NoError(t, err)

	p, err := f.products.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Inventory.Stock, "replayed order must not deduct twice")
}

func TestPlaceOrderRejectsBadItems(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{OrderID: "order-1"})
	assert.Error(t, err)

	_, err = f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{
		OrderID: "order-2",
		Items:   []entity.OrderItem{{ProductID: "p1", Price: 10, Quantity: 0}},
	})
	assert.Error(t, err)
}

func TestPlaceOrderRecoversCart(t *testing.T) {
	f := newOrderFixture(t)
	cart := entity.AbandonedCart{
		ID: "cart-1", SessionID: "sess-1",
		Items:          []entity.CartLine{{ProductID: "p1", Quantity: 3}},
		Status:         entity.CartAbandoned,
		ReminderStage:  2,
		LastActivityAt: baseTime.Add(-48 * time.Hour),
	}
	require.NoError(t, f.carts.Upsert(context.Background(), &cart))

	_, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{
		OrderID:   "order-1",
		SessionID: "sess-1",
		Items:     []entity.OrderItem{{ProductID: "p1", Price: 10, Quantity: 3}},
	})
	require.NoError(t, err)

	got, err := f.carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, entity.CartRecovered, got.Status)
	assert.Equal(t, "order-1", got.RecoveredOrder)
	assert.Contains(t, f.pub.topics(), messaging.TopicCartsRecovered)
}

func TestRecoveredCartIsTerminal(t *testing.T) {
	f := newOrderFixture(t)
	cart := entity.AbandonedCart{
		ID: "cart-1", SessionID: "sess-1",
		Items:  []entity.CartLine{{ProductID: "p1", Quantity: 1}},
		Status: entity.CartAbandoned,
	}
	require.NoError(t, f.carts.Upsert(context.Background(), &cart))

	for _, orderID := range []string{"order-1", "order-2"} {
		_, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{
			OrderID:   orderID,
			SessionID: "sess-1",
			Items:     []entity.OrderItem{{ProductID: "p1", Price: 10, Quantity: 1}},
		})
		require.NoError(t, err)
	}

	got, err := f.carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.RecoveredOrder, "first recovery wins, later orders do not relink")
}

func TestUpdateStatusRunsInventoryHook(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderCommand{
		OrderID: "order-1",
		Items:   []entity.OrderItem{{ProductID: "p1", Price: 10, Quantity: 3}},
	})
	require.NoError(t, err)

	order, err := f.svc.UpdateStatus(context.Background(), "order-1", entity.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, order.Status)

	p, err := f.products.FindByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Inventory.Stock)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.UpdateStatus(context.Background(), "order-1", "teleported")
	assert.Error(t, err)
}

func TestHandleOrderPlacedRecoversCart(t *testing.T) {
	f := newOrderFixture(t)
	cart := entity.AbandonedCart{
		ID: "cart-1", SessionID: "sess-1",
		Items:  []entity.CartLine{{ProductID: "p1", Quantity: 1}},
		Status: entity.CartAbandoned,
	}
	require.NoError(t, f.carts.Upsert(context.Background(), &cart))

	err := f.svc.HandleOrderPlaced(context.Background(), &entity.OrderPlaced{
		OrderID:   "order-ext",
		SessionID: "sess-1",
		PlacedAt:  baseTime,
	})
	require.NoError(t, err)

	got, err := f.carts.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, entity.CartRecovered, got.Status)
	assert.Equal(t, "order-ext", got.RecoveredOrder)
}

// TestAbandonmentLifecycleEndToEnd walks one session through activity,
// heartbeats, server-side abandonment, three reminder stages, and recovery
// by checkout.
func TestAbandonmentLifecycleEndToEnd(t *testing.T) {
	carts := memory.NewCartStore()
	orders := memory.NewOrderStore()
	products := memory.NewProductStore()
	require.NoError(t, products.Seed(context.Background(), []entity.Product{
		testProduct("p1", 10, 2, false),
	}))
	mailer := &fakeMailer{}
	pub := &fakePublisher{}

	tracker := NewTrackerService(carts)
	cleanup := NewCleanupService(carts, pub)
	reminders := NewReminderService(carts, products, mailer, pub, "https://shop.example.com")
	orderSvc := NewOrderService(orders, carts, NewInventoryService(products, pub, nil, ""), pub)

	clock := baseTime
	setClock := func(at time.Time) {
		clock = at
		tracker.now = fixedClock(at)
		cleanup.now = fixedClock(at)
		reminders.now = fixedClock(at)
		orderSvc.now = fixedClock(at)
	}
	setClock(baseTime)
	ctx := context.Background()

	// t=0: the shopper builds a cart and identifies themselves at checkout.
	_, err := tracker.RecordActivity(ctx, ActivityUpdate{
		SessionID:     "sess-1",
		Items:         []entity.CartLine{{ProductID: "p1", Quantity: 2}},
		Total:         20,
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
	})
	require.NoError(t, err)

	// Heartbeats keep it active; the hourly sweep sees nothing stale.
	setClock(clock.Add(30 * time.Minute))
	status, err := tracker.Heartbeat(ctx, HeartbeatRequest{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, entity.CartActive, status)
	require.Equal(t, 0, cleanup.Run(ctx, 60).Updated)

	// The tab closes. 61 minutes later the sweep marks the cart abandoned.
	setClock(clock.Add(61 * time.Minute))
	result := cleanup.Run(ctx, 60)
	require.Equal(t, 1, result.Updated)

	// A heartbeat from a reopened stale tab is told to stop.
	status, err = tracker.Heartbeat(ctx, HeartbeatRequest{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, entity.CartAbandoned, status)

	// Reminders go out at 25h, 50h, 75h after last activity.
	for day := 1; day <= 3; day++ {
		setClock(baseTime.Add(time.Duration(day) * 25 * time.Hour))
		reminders.Run(ctx)
		require.Equal(t, day, mailer.count())
	}

	// The shopper comes back through the stage-3 link and checks out.
	setClock(clock.Add(time.Hour))
	_, err = orderSvc.PlaceOrder(ctx, &PlaceOrderCommand{
		OrderID:       "order-1",
		SessionID:     "sess-1",
		CustomerEmail: "ada@example.com",
		Items:         []entity.OrderItem{{ProductID: "p1", Name: "Widget p1", Price: 10, Quantity: 2}},
	})
	require.NoError(t, err)

	cart, err := carts.FindBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, entity.CartRecovered, cart.Status)
	assert.Equal(t, "order-1", cart.RecoveredOrder)
	assert.Equal(t, 3, cart.ReminderStage)

	p, err := products.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p.Inventory.Stock)

	// No further reminders after recovery.
	setClock(clock.Add(48 * time.Hour))
	reminders.Run(ctx)
	assert.Equal(t, 3, mailer.count())
}
