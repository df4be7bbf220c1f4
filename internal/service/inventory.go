package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakmart/storefront-backend/internal/email"
	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/messaging"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// InventoryService keeps product stock consistent with the net effect of all
// non-cancelled order line items, as a side effect of order writes. It never
// returns an error to the order path: a broken product reference or a failed
// alert must not block order processing.
type InventoryService struct {
	products   repository.ProductRepository
	publisher  messaging.Publisher
	mailer     email.Mailer
	alertEmail string

	now func() time.Time
}

func NewInventoryService(products repository.ProductRepository, publisher messaging.Publisher, mailer email.Mailer, alertEmail string) *InventoryService {
	return &InventoryService{
		products:   products,
		publisher:  publisher,
		mailer:     mailer,
		alertEmail: alertEmail,
		now:        time.Now,
	}
}

// OrderCreated deducts stock for a freshly created order, unless it was
// created directly in a cancelled/refunded state.
func (s *InventoryService) OrderCreated(ctx context.Context, order *entity.Order) {
	if entity.IsCancelledStatus(order.Status) {
		return
	}
	s.deduct(ctx, order.ID, order.Items)
}

// OrderStatusChanged reacts to a status transition. prev is the snapshot
// taken before the write, so restores use the item list that was actually
// deducted.
func (s *InventoryService) OrderStatusChanged(ctx context.Context, prev *entity.Order, newStatus string) {
	switch {
	case !entity.IsCancelledStatus(prev.Status) && entity.IsCancelledStatus(newStatus):
		s.restore(ctx, prev.ID, prev.Items)
	case prev.Status == entity.OrderCancelled && !entity.IsCancelledStatus(newStatus):
		// Re-activation: the cancel already restored the stock.
		s.deduct(ctx, prev.ID, prev.Items)
	}
}

func (s *InventoryService) deduct(ctx context.Context, orderID string, items []entity.OrderItem) {
	var low []entity.LowStockItem
	for _, item := range items {
		p, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			slog.Error("Skipping stock deduction, product unresolvable",
				"order_id", orderID, "product_id", item.ProductID, "err", err)
			continue
		}
		if !p.Inventory.TrackInventory {
			continue
		}

		updated, err := s.products.DeductStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			slog.Error("Failed to deduct stock",
				"order_id", orderID, "product_id", item.ProductID, "err", err)
			continue
		}
		slog.Info("Stock deducted",
			"order_id", orderID, "product_id", item.ProductID,
			"quantity", item.Quantity, "stock", updated.Inventory.Stock)

		if updated.Inventory.Stock > 0 && updated.Inventory.Stock <= updated.Inventory.LowStockThreshold {
			low = append(low, entity.LowStockItem{
				ProductID: updated.ID,
				Name:      updated.Name,
				Stock:     updated.Inventory.Stock,
				Threshold: updated.Inventory.LowStockThreshold,
			})
		}
	}

	if len(low) > 0 {
		s.alertLowStock(ctx, orderID, low)
	}
}

func (s *InventoryService) restore(ctx context.Context, orderID string, items []entity.OrderItem) {
	for _, item := range items {
		p, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			slog.Error("Skipping stock restore, product unresolvable",
				"order_id", orderID, "product_id", item.ProductID, "err", err)
			continue
		}
		if !p.Inventory.TrackInventory {
			continue
		}

		updated, err := s.products.RestoreStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			slog.Error("Failed to restore stock",
				"order_id", orderID, "product_id", item.ProductID, "err", err)
			continue
		}
		slog.Info("Stock restored",
			"order_id", orderID, "product_id", item.ProductID,
			"quantity", item.Quantity, "stock", updated.Inventory.Stock)
	}
}

// alertLowStock sends one batched alert per order write, never one per item,
// so a multi-item order near depletion cannot cause an alert storm.
func (s *InventoryService) alertLowStock(ctx context.Context, orderID string, items []entity.LowStockItem) {
	alert := entity.LowStockAlert{
		OrderID:    orderID,
		Items:      items,
		DetectedAt: s.now(),
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, messaging.TopicInventoryLowStock, orderID, alert); err != nil {
			slog.Error("Failed to publish low stock alert", "order_id", orderID, "err", err)
		}
	}

	if s.mailer == nil || s.alertEmail == "" {
		return
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s (%s): %d left, threshold %d", it.Name, it.ProductID, it.Stock, it.Threshold))
	}
	subject, body := email.RenderLowStockAlert(orderID, lines)
	if err := s.mailer.Send(ctx, s.alertEmail, subject, body, body); err != nil {
		slog.Error("Failed to send low stock alert email", "order_id", orderID, "err", err)
	}
}
