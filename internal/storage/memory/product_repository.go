package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// ProductRepository — in-memory реализация каталога для локальной
// разработки и тестов. Все мутации стока сериализуются мьютексом, поэтому
// условное списание атомарно и остаток не может уйти в минус.
type ProductRepository struct {
	mu    sync.RWMutex
	seq   int64
	items map[int64]domain.Product
	slugs map[string]int64
	// refs считает позиции заказов, ссылающиеся на товар: пока счётчик
	// больше нуля, удаление запрещено.
	refs map[int64]int
}

// NewProductRepository возвращает in-memory репозиторий каталога.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		items: make(map[int64]domain.Product),
		slugs: make(map[string]int64),
		refs:  make(map[int64]int),
	}
}

// Create сохраняет новый товар и заполняет его ID.
func (r *ProductRepository) Create(_ context.Context, p *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slugs[p.Slug]; exists {
		return domain.ErrSlugConflict
	}

	r.seq++
	p.ID = r.seq
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.items[p.ID] = *p
	r.slugs[p.Slug] = p.ID
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *ProductRepository) Get(_ context.Context, id int64) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// GetBySlug возвращает товар по slug или ErrProductNotFound.
func (r *ProductRepository) GetBySlug(_ context.Context, slug string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.slugs[slug]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.items[id], nil
}

// List возвращает каталог, упорядоченный по имени.
func (r *ProductRepository) List(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Delete удаляет товар, если на него не ссылаются позиции заказов.
func (r *ProductRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if r.refs[id] > 0 {
		return domain.ErrProductReferenced
	}

	delete(r.items, id)
	delete(r.slugs, p.Slug)
	return nil
}

// DecrementStock выполняет условное атомарное списание: возвращает false,
// если остатка не хватает. Списание нулевого или отрицательного количества —
// no-op с успехом.
func (r *ProductRepository) DecrementStock(_ context.Context, id int64, qty int) (bool, error) {
	if qty <= 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if p.Stock < qty {
		return false, nil
	}

	p.Stock -= qty
	r.items[id] = p
	return true, nil
}

// IncrementStock безусловно пополняет остаток.
func (r *ProductRepository) IncrementStock(_ context.Context, id int64, qty int) error {
	if qty <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}

	p.Stock += qty
	r.items[id] = p
	return nil
}

// addRef и releaseRef ведут счётчик ссылок из позиций заказов.
// Вызываются репозиторием заказов этого же пакета.
func (r *ProductRepository) addRef(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[id]++
}

func (r *ProductRepository) releaseRef(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[id] > 0 {
		r.refs[id]--
	}
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
