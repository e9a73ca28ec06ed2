package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shop/internal/storage/redis"
)

// Dependencies содержит все зависимости приложения.
//
// Состав определяется окружением: без SHOP_POSTGRES_DSN и SHOP_REDIS_ADDR
// сервис работает на in-memory хранилищах, без SHOP_KAFKA_BROKERS события
// копятся в outbox, но не публикуются.
type Dependencies struct {
	Products    domain.ProductRepository
	Orders      domain.OrderRepository
	Carts       domain.CartStore
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	Publisher    domain.OutboxPublisher
	DLQPublisher domain.OutboxPublisher

	Checkers map[string]healthcheck.Checker
	Logger   *log.Entry

	closers []func() error
}

// NewDependencies собирает зависимости по переменным окружения.
func NewDependencies(ctx context.Context, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Checkers: make(map[string]healthcheck.Checker),
		Logger:   logger,
	}

	if err := deps.initStorage(ctx); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.initCartStore(ctx); err != nil {
		deps.Close()
		return nil, err
	}
	deps.initKafka()

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context) error {
	dsn := strings.TrimSpace(os.Getenv("SHOP_POSTGRES_DSN"))
	if dsn == "" {
		d.Logger.Info("SHOP_POSTGRES_DSN is not set, using in-memory storage")
		products := memory.NewProductRepository()
		d.Products = products
		d.Orders = memory.NewOrderRepository(products)
		d.Outbox = memory.NewOutboxRepository()
		d.Timeline = memory.NewTimelineRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		return nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	d.Products = postgres.NewProductRepository(store)
	d.Orders = postgres.NewOrderRepository(store)
	d.Outbox = postgres.NewOutboxRepository(store)
	d.Timeline = postgres.NewTimelineRepository(store)
	d.Idempotency = postgres.NewIdempotencyRepository(store)
	d.Checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping, 0)
	d.closers = append(d.closers, store.Close)

	d.Logger.Info("postgres storage initialized")
	return nil
}

func (d *Dependencies) initCartStore(ctx context.Context) error {
	addr := strings.TrimSpace(os.Getenv("SHOP_REDIS_ADDR"))
	if addr == "" {
		d.Logger.Info("SHOP_REDIS_ADDR is not set, carts are kept in memory")
		d.Carts = memory.NewCartStore()
		return nil
	}

	ttl := 0 * time.Second
	if raw := strings.TrimSpace(os.Getenv("SHOP_CART_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse SHOP_CART_TTL: %w", err)
		}
		ttl = parsed
	}

	carts, err := redis.Open(ctx, addr, ttl)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}

	d.Carts = carts
	d.Checkers["redis"] = healthcheck.NewPingChecker("redis", carts.Ping, 0)
	d.closers = append(d.closers, carts.Close)

	d.Logger.WithField("addr", addr).Info("redis cart store initialized")
	return nil
}

// initKafka настраивает публикацию событий. Отказ брокера не фатален:
// сервис продолжает работу, события остаются pending в outbox.
func (d *Dependencies) initKafka() {
	raw := strings.TrimSpace(os.Getenv("SHOP_KAFKA_BROKERS"))
	if raw == "" {
		d.Logger.Info("SHOP_KAFKA_BROKERS is not set, outbox events will not be published")
		return
	}

	brokers := strings.Split(raw, ",")
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}

	// Пустой topic: publisher маршрутизирует по aggregate_type сообщения.
	d.Publisher = kafka.NewOutboxPublisher(producer, "")
	d.DLQPublisher = kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
	d.closers = append(d.closers, producer.Close)

	d.Logger.WithField("brokers", brokers).Info("kafka producer initialized")
}

// Close освобождает внешние соединения в обратном порядке создания.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
