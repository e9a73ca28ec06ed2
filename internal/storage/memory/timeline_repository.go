package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// TimelineRepository — in-memory хранилище событий жизненного цикла заказа.
type TimelineRepository struct {
	mu    sync.RWMutex
	items map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{items: make(map[int64][]domain.TimelineEvent)}
}

// Append добавляет событие в таймлайн заказа.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[event.OrderID] = append(r.items[event.OrderID], event)
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *TimelineRepository) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := append([]domain.TimelineEvent(nil), r.items[orderID]...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
