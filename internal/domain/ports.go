package domain

import (
	"context"
	"time"
)

// ProductRepository описывает требования к хранилищу каталога.
// Мутации стока идут только через атомарные инкремент/декремент,
// никогда через read-modify-write в памяти приложения.
type ProductRepository interface {
	// Create сохраняет новый товар и заполняет его ID.
	Create(ctx context.Context, p *Product) error
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// GetBySlug возвращает товар по slug или ErrProductNotFound.
	GetBySlug(ctx context.Context, slug string) (Product, error)
	// List возвращает каталог, упорядоченный по имени.
	List(ctx context.Context) ([]Product, error)
	// Delete удаляет товар. Возвращает ErrProductReferenced, пока на товар
	// ссылаются позиции заказов.
	Delete(ctx context.Context, id int64) error
	// DecrementStock выполняет условное атомарное списание: сток уменьшается
	// только если текущего остатка хватает. Возвращает false без ошибки,
	// если остатка недостаточно.
	DecrementStock(ctx context.Context, id int64, qty int) (bool, error)
	// IncrementStock безусловно пополняет остаток (restock).
	IncrementStock(ctx context.Context, id int64, qty int) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет черновик заказа вместе с позициями в одной транзакции
	// и заполняет идентификаторы. Позиции с нулевой ценой получают snapshot
	// текущей цены товара.
	Create(ctx context.Context, order *Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// List возвращает последние заказы (limit <= 0 — без ограничения).
	List(ctx context.Context, limit int) ([]Order, error)
	// Confirm атомарно резервирует сток по всем позициям черновика:
	// блокирует строки товаров по возрастанию id, списывает остатки условными
	// обновлениями, пересчитывает итог из snapshot-цен и переводит заказ в
	// confirmed. При нехватке возвращает *StockShortageError, и ни одно
	// списание не сохраняется.
	Confirm(ctx context.Context, id int64) (Order, error)
	// Cancel переводит черновик в cancelled.
	Cancel(ctx context.Context, id int64) (Order, error)
	// Place создаёт заказ и подтверждает его в одной транзакции: при нехватке
	// стока строка заказа не сохраняется вовсе.
	Place(ctx context.Context, order *Order) (Order, error)
}

// CartStore — сессионное хранилище корзины: маленький вложенный map под
// фиксированным ключом сессии. Реализация обязана возвращать пустой map для
// неизвестной сессии.
type CartStore interface {
	Load(ctx context.Context, sessionID string) (map[string]any, error)
	Save(ctx context.Context, sessionID string, data map[string]any) error
	Delete(ctx context.Context, sessionID string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
