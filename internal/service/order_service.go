package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/messaging"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// PlaceOrderCommand creates a new order, optionally linked to the browsing
// session that produced it so the matching cart record can be recovered.
type PlaceOrderCommand struct {
	OrderID       string             `json:"order_id"`
	SessionID     string             `json:"session_id,omitempty"`
	CustomerEmail string             `json:"customer_email,omitempty"`
	Items         []entity.OrderItem `json:"items"`
}

// OrderService orchestrates order writes and the side effects hanging off
// them: stock adjustment and the checkout-to-recovery bridge.
type OrderService struct {
	orders    repository.OrderRepository
	carts     repository.CartRepository
	inventory *InventoryService
	publisher messaging.Publisher

	now func() time.Time
}

func NewOrderService(orders repository.OrderRepository, carts repository.CartRepository, inventory *InventoryService, publisher messaging.Publisher) *OrderService {
	return &OrderService{
		orders:    orders,
		carts:     carts,
		inventory: inventory,
		publisher: publisher,
		now:       time.Now,
	}
}

// PlaceOrder persists the order, deducts stock, and recovers the
// originating cart. It is idempotent per order ID.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) (*entity.Order, error) {
	slog.Info("Service: Placing order", "order_id", cmd.OrderID, "items", len(cmd.Items))

	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("order must have at least one item")
	}
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item %s has non-positive quantity", item.ProductID)
		}
	}

	var totalPrice float64
	for _, item := range cmd.Items {
		totalPrice += item.Price * float64(item.Quantity)
	}

	order := &entity.Order{
		ID:            cmd.OrderID,
		SessionID:     cmd.SessionID,
		CustomerEmail: cmd.CustomerEmail,
		Items:         cmd.Items,
		TotalPrice:    totalPrice,
		Status:        entity.OrderPending,
		CreatedAt:     s.now(),
	}

	created, err := s.orders.Create(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if !created {
		slog.Info("Order already exists, skipping (idempotent)", "order_id", cmd.OrderID)
		return order, nil
	}

	// Side effects never fail the order write.
	s.inventory.OrderCreated(ctx, order)
	s.recoverCart(ctx, order.SessionID, order.ID)

	if s.publisher != nil {
		event := entity.OrderPlaced{
			OrderID:    order.ID,
			SessionID:  order.SessionID,
			Items:      order.Items,
			TotalPrice: order.TotalPrice,
			PlacedAt:   order.CreatedAt,
		}
		if err := s.publisher.PublishEvent(ctx, messaging.TopicOrdersPlaced, order.ID, event); err != nil {
			slog.Error("Failed to publish order placed event", "order_id", order.ID, "err", err)
		}
	}

	return order, nil
}

// UpdateStatus transitions the order and runs the inventory hook against
// the pre-write snapshot.
func (s *OrderService) UpdateStatus(ctx context.Context, id, status string) (*entity.Order, error) {
	if !entity.ValidOrderStatus(status) {
		return nil, fmt.Errorf("invalid order status %q", status)
	}

	prev, err := s.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", id, err)
	}

	s.inventory.OrderStatusChanged(ctx, prev, status)

	if s.publisher != nil {
		event := entity.OrderStatusChanged{
			OrderID:        id,
			PreviousStatus: prev.Status,
			NewStatus:      status,
			ChangedAt:      s.now(),
		}
		if err := s.publisher.PublishEvent(ctx, messaging.TopicOrdersPlaced, id, event); err != nil {
			slog.Error("Failed to publish order status event", "order_id", id, "err", err)
		}
	}

	updated := *prev
	updated.Status = status
	return &updated, nil
}

// GetRecentOrders returns the latest orders for the admin screen.
func (s *OrderService) GetRecentOrders(ctx context.Context, limit int) ([]entity.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.orders.FindRecent(ctx, limit)
}

// HandleOrderPlaced is triggered by the message broker, so checkouts placed
// by other services also recover their carts. MarkRecovered is terminal and
// idempotent, so consuming our own events is harmless.
func (s *OrderService) HandleOrderPlaced(ctx context.Context, event *entity.OrderPlaced) error {
	slog.Info("Consumer: order placed", "order_id", event.OrderID, "session_id", event.SessionID)
	s.recoverCart(ctx, event.SessionID, event.OrderID)
	return nil
}

// recoverCart is the only path by which a cart reaches recovered, and
// recovered is terminal.
func (s *OrderService) recoverCart(ctx context.Context, sessionID, orderID string) {
	if sessionID == "" {
		return
	}
	now := s.now()
	if err := s.carts.MarkRecovered(ctx, sessionID, orderID, now); err != nil {
		slog.Error("Failed to mark cart recovered",
			"session_id", sessionID, "order_id", orderID, "err", err)
		return
	}

	if s.publisher != nil {
		cart, err := s.carts.FindBySessionID(ctx, sessionID)
		if err != nil {
			// No cart record for this session; nothing to announce.
			return
		}
		event := entity.CartRecoveredEvent{
			CartID:      cart.ID,
			SessionID:   sessionID,
			OrderID:     orderID,
			RecoveredAt: now,
		}
		if err := s.publisher.PublishEvent(ctx, messaging.TopicCartsRecovered, sessionID, event); err != nil {
			slog.Error("Failed to publish cart recovered event", "session_id", sessionID, "err", err)
		}
	}
}
