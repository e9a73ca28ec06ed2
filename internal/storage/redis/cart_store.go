// Package redis реализует сессионное хранилище корзины поверх Redis.
// Содержимое корзины сериализуется в JSON под ключом сессии и живёт
// ограниченное время: брошенные корзины истекают сами.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	keyPrefix  = "shop:cart:"
	defaultTTL = 30 * 24 * time.Hour
)

// CartStore хранит корзины сессий в Redis.
type CartStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// Open подключается к Redis и проверяет доступность сервера.
// ttl <= 0 заменяется на значение по умолчанию (30 дней).
func Open(ctx context.Context, addr string, ttl time.Duration) (*CartStore, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CartStore{client: client, ttl: ttl}, nil
}

// NewWithClient оборачивает уже открытое подключение. Используется в тестах.
func NewWithClient(client *goredis.Client, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CartStore{client: client, ttl: ttl}
}

func (s *CartStore) Load(ctx context.Context, sessionID string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("load cart %s: %w", sessionID, err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		// Битый payload трактуем как пустую корзину: ленивой очисткой
		// займётся сама корзина при следующем сохранении.
		return make(map[string]any), nil
	}
	return data, nil
}

func (s *CartStore) Save(ctx context.Context, sessionID string, data map[string]any) error {
	if len(data) == 0 {
		return s.Delete(ctx, sessionID)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", sessionID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cart %s: %w", sessionID, err)
	}
	return nil
}

func (s *CartStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete cart %s: %w", sessionID, err)
	}
	return nil
}

// Ping проверяет доступность Redis для health-проверок.
func (s *CartStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

// Close закрывает подключение.
func (s *CartStore) Close() error {
	return s.client.Close()
}

var _ domain.CartStore = (*CartStore)(nil)
