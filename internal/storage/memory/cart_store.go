package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// CartStore — in-memory хранилище сессионных корзин.
type CartStore struct {
	mu    sync.RWMutex
	items map[string]map[string]any
}

// NewCartStore возвращает in-memory хранилище корзин.
func NewCartStore() *CartStore {
	return &CartStore{items: make(map[string]map[string]any)}
}

// Load возвращает копию корзины сессии; для неизвестной сессии — пустой map.
func (s *CartStore) Load(_ context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.items[sessionID]
	if !ok {
		return make(map[string]any), nil
	}
	return cloneCartData(data), nil
}

// Save сохраняет копию корзины сессии.
func (s *CartStore) Save(_ context.Context, sessionID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[sessionID] = cloneCartData(data)
	return nil
}

// Delete удаляет корзину сессии. Идемпотентна.
func (s *CartStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, sessionID)
	return nil
}

// cloneCartData копирует верхний уровень map: значения — скаляры количества,
// глубокая копия не нужна.
func cloneCartData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ domain.CartStore = (*CartStore)(nil)
