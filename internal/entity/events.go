package entity

import "time"

// Event represents a domain event published to the message broker.
type Event interface {
	EventType() string
}

// OrderPlaced is emitted when an order is successfully placed.
type OrderPlaced struct {
	OrderID    string      `json:"order_id"`
	SessionID  string      `json:"session_id,omitempty"`
	Items      []OrderItem `json:"items"`
	TotalPrice float64     `json:"total_price"`
	PlacedAt   time.Time   `json:"placed_at"`
}

func (e OrderPlaced) EventType() string { return "OrderPlaced" }

// OrderStatusChanged is emitted on every order status transition.
type OrderStatusChanged struct {
	OrderID        string    `json:"order_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ChangedAt      time.Time `json:"changed_at"`
}

func (e OrderStatusChanged) EventType() string { return "OrderStatusChanged" }

// CartAbandonedEvent is emitted when the cleanup sweep reclassifies a stale
// cart.
type CartAbandonedEvent struct {
	CartID     string    `json:"cart_id"`
	SessionID  string    `json:"session_id"`
	CartTotal  float64   `json:"cart_total"`
	TTLMinutes int       `json:"ttl_minutes"`
	MarkedAt   time.Time `json:"marked_at"`
}

func (e CartAbandonedEvent) EventType() string { return "CartAbandoned" }

// CartRecoveredEvent is emitted when a checkout fulfils an abandoned cart.
type CartRecoveredEvent struct {
	CartID      string    `json:"cart_id"`
	SessionID   string    `json:"session_id"`
	OrderID     string    `json:"order_id"`
	RecoveredAt time.Time `json:"recovered_at"`
}

func (e CartRecoveredEvent) EventType() string { return "CartRecovered" }

// ReminderSent is emitted after a recovery email send succeeds.
type ReminderSent struct {
	CartID    string    `json:"cart_id"`
	SessionID string    `json:"session_id"`
	Stage     int       `json:"stage"`
	Email     string    `json:"email"`
	SentAt    time.Time `json:"sent_at"`
}

func (e ReminderSent) EventType() string { return "ReminderSent" }

// LowStockItem is one product at or below its low-stock threshold.
type LowStockItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

// LowStockAlert batches every low-stock item touched by a single order
// write, so a multi-item order near depletion produces one alert, not one
// per item.
type LowStockAlert struct {
	OrderID    string         `json:"order_id"`
	Items      []LowStockItem `json:"items"`
	DetectedAt time.Time      `json:"detected_at"`
}

func (e LowStockAlert) EventType() string { return "LowStockAlert" }
