package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// stockDelta — одно применённое списание, кандидат на компенсацию.
type stockDelta struct {
	productID int64
	qty       int
}

// OrderRepository — in-memory реализация хранилища заказов.
// Вместо транзакции БД целостность подтверждения обеспечивается
// компенсацией: успешные списания откатываются, если хоть одна позиция
// не обеспечена стоком.
type OrderRepository struct {
	mu       sync.Mutex
	seq      int64
	lineSeq  int64
	items    map[int64]domain.Order
	products *ProductRepository
}

// NewOrderRepository возвращает in-memory репозиторий заказов поверх
// репозитория каталога.
func NewOrderRepository(products *ProductRepository) *OrderRepository {
	return &OrderRepository{
		items:    make(map[int64]domain.Order),
		products: products,
	}
}

// Create сохраняет черновик с позициями и заполняет идентификаторы.
// Позиции с нулевой ценой получают snapshot текущей цены товара.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if len(order.Lines) == 0 {
		return domain.ErrOrderLinesRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(ctx, order)
}

func (r *OrderRepository) createLocked(ctx context.Context, order *domain.Order) error {
	for i := range order.Lines {
		if order.Lines[i].Quantity <= 0 {
			return domain.ErrLineQtyInvalid
		}
		p, err := r.products.Get(ctx, order.Lines[i].ProductID)
		if err != nil {
			return err
		}
		if order.Lines[i].Price.IsZero() {
			order.Lines[i].Price = p.Price
		}
	}

	r.seq++
	order.ID = r.seq
	if order.Status == "" {
		order.Status = domain.OrderStatusDraft
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Lines {
		r.lineSeq++
		order.Lines[i].ID = r.lineSeq
		order.Lines[i].OrderID = order.ID
		r.products.addRef(order.Lines[i].ProductID)
	}

	r.items[order.ID] = cloneOrder(*order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *OrderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List возвращает последние заказы, ограничивая выборку limit (если > 0).
func (r *OrderRepository) List(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Confirm атомарно резервирует сток по всем позициям черновика.
// При нехватке возвращает *StockShortageError с полным списком нехваток,
// и остатки остаются нетронутыми.
func (r *OrderRepository) Confirm(ctx context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	confirmed, err := r.confirmLocked(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	return cloneOrder(confirmed), nil
}

func (r *OrderRepository) confirmLocked(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.Status != domain.OrderStatusDraft {
		return domain.Order{}, domain.ErrOrderNotDraft
	}

	var applied []stockDelta
	var shortages []domain.Shortage

	for i := range order.Lines {
		line := order.Lines[i]
		ok, err := r.products.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			r.rollbackDecrements(ctx, applied)
			return domain.Order{}, err
		}
		if !ok {
			p, err := r.products.Get(ctx, line.ProductID)
			if err != nil {
				r.rollbackDecrements(ctx, applied)
				return domain.Order{}, err
			}
			shortages = append(shortages, domain.Shortage{
				ProductID: line.ProductID,
				Name:      p.Name,
				Requested: line.Quantity,
				Available: p.Stock,
			})
			continue
		}
		applied = append(applied, stockDelta{line.ProductID, line.Quantity})
	}

	if len(shortages) > 0 {
		r.rollbackDecrements(ctx, applied)
		return domain.Order{}, &domain.StockShortageError{Shortages: shortages}
	}

	order.Total = order.CalcTotal()
	order.Status = domain.OrderStatusConfirmed
	r.items[order.ID] = cloneOrder(order)
	return order, nil
}

func (r *OrderRepository) rollbackDecrements(ctx context.Context, applied []stockDelta) {
	for _, d := range applied {
		_ = r.products.IncrementStock(ctx, d.productID, d.qty)
	}
}

// Cancel переводит черновик в cancelled.
func (r *OrderRepository) Cancel(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return domain.Order{}, domain.ErrOrderNotDraft
	}

	order.Status = domain.OrderStatusCancelled
	r.items[id] = cloneOrder(order)
	return cloneOrder(order), nil
}

// Place создаёт и подтверждает заказ как одно целое: при нехватке стока
// черновик не сохраняется вовсе.
func (r *OrderRepository) Place(ctx context.Context, order *domain.Order) (domain.Order, error) {
	if len(order.Lines) == 0 {
		return domain.Order{}, domain.ErrOrderLinesRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.createLocked(ctx, order); err != nil {
		return domain.Order{}, err
	}

	confirmed, err := r.confirmLocked(ctx, *order)
	if err != nil {
		// Эквивалент отката транзакции: черновик не переживает неудачу.
		for i := range order.Lines {
			r.products.releaseRef(order.Lines[i].ProductID)
		}
		delete(r.items, order.ID)
		order.ID = 0
		return domain.Order{}, err
	}

	*order = cloneOrder(confirmed)
	return cloneOrder(confirmed), nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = append([]domain.OrderLine(nil), src.Lines...)
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
