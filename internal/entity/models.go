package entity

import (
	"time"
)

// Inventory holds the per-product stock controls.
type Inventory struct {
	Stock             int  `json:"stock"`
	TrackInventory    bool `json:"track_inventory"`
	LowStockThreshold int  `json:"low_stock_threshold"`
	AllowBackorders   bool `json:"allow_backorders"`
	Available         bool `json:"available"`
	// ReservedStock is tracked for reporting but not enforced by the
	// inventory hook.
	ReservedStock int `json:"reserved_stock"`
}

// Product represents a product in the store.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	ImageURL    string    `json:"image_url"`
	Category    string    `json:"category"`
	Inventory   Inventory `json:"inventory_management"`
}

// OrderItem is a line item within an order.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Order statuses.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
	OrderRefunded   = "refunded"
)

// IsCancelledStatus reports whether a status releases previously deducted stock.
func IsCancelledStatus(status string) bool {
	return status == OrderCancelled || status == OrderRefunded
}

// ValidOrderStatus reports whether status is one of the known order states.
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderPending, OrderProcessing, OrderShipped, OrderCompleted, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// Order represents a customer order.
type Order struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Items         []OrderItem `json:"items"`
	TotalPrice    float64     `json:"total_price"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Abandoned-cart statuses.
const (
	CartActive    = "active"
	CartAbandoned = "abandoned"
	CartRecovered = "recovered"
)

// CartLine is a single product/quantity pair inside an abandoned-cart
// snapshot. The product reference is weak: the product may be deleted
// independently of the cart record.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AbandonedCart is the persisted snapshot of one shopping session's
// in-progress cart. Exactly one record exists per session ID.
type AbandonedCart struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	UserID         string     `json:"user_id,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerEmail  string     `json:"customer_email,omitempty"`
	CustomerNumber string     `json:"customer_number,omitempty"`
	Items          []CartLine `json:"items"`
	CartTotal      float64    `json:"cart_total"`
	Status         string     `json:"status"`
	ReminderStage  int        `json:"reminder_stage"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	RecoveredOrder string     `json:"recovered_order,omitempty"`

	// RecoveryEmailSentAt is the timestamp of the most recent reminder
	// send, enforcing the minimum inter-reminder gap.
	RecoveryEmailSentAt *time.Time `json:"recovery_email_sent_at,omitempty"`

	// Notes is a free-text audit trail of automated state changes.
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasItems reports whether the cart snapshot contains at least one line.
func (c *AbandonedCart) HasItems() bool {
	return len(c.Items) > 0
}

// AnalyticsSnapshot is the aggregate report served to the admin dashboard.
type AnalyticsSnapshot struct {
	ActiveCarts      int     `json:"active_carts"`
	AbandonedCarts   int     `json:"abandoned_carts"`
	RecoveredCarts   int     `json:"recovered_carts"`
	RecoveredRevenue float64 `json:"recovered_revenue"`
	RecoveryRate     float64 `json:"recovery_rate"`
	RemindersByStage [3]int  `json:"reminders_by_stage"`
	OrdersTotal      int     `json:"orders_total"`
}
