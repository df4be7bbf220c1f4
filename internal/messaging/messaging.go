package messaging

import "context"

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}

// Topics used by the storefront backend.
const (
	TopicOrdersPlaced      = "orders.placed"
	TopicCartsAbandoned    = "carts.abandoned"
	TopicCartsRecovered    = "carts.recovered"
	TopicRemindersSent     = "reminders.sent"
	TopicInventoryLowStock = "inventory.lowstock"
)
