package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderShortage  EventType = "order.shortage"

	// Catalog события
	EventTypeProductRestocked EventType = "product.restocked"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicCatalogEvents   = "shop.catalog.events"
	TopicDeadLetterQueue = "shop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   int64                  `json:"order_id"`
	Buyer     string                 `json:"buyer"`
	Status    string                 `json:"status"`
	Total     string                 `json:"total"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StockEvent представляет событие изменения остатка товара
type StockEvent struct {
	EventType EventType `json:"event_type"`
	ProductID int64     `json:"product_id"`
	Delta     int       `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID int64, buyer, status, total string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		Buyer:     buyer,
		Status:    status,
		Total:     total,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewStockEvent создает новое событие остатка
func NewStockEvent(eventType EventType, productID int64, delta int) *StockEvent {
	return &StockEvent{
		EventType: eventType,
		ProductID: productID,
		Delta:     delta,
		Timestamp: time.Now(),
	}
}
