package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newProduct(name, slug string, price string, stock int) *domain.Product {
	return &domain.Product{
		Name:  name,
		Slug:  slug,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func TestProductRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	p := newProduct("Anillo", "anillo", "10.00", 5)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Slug != "anillo" || got.Stock != 5 {
		t.Fatalf("unexpected product: %+v", got)
	}

	bySlug, err := repo.GetBySlug(ctx, "anillo")
	if err != nil || bySlug.ID != p.ID {
		t.Fatalf("get by slug: %v, %+v", err, bySlug)
	}

	if _, err := repo.Get(ctx, 999); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_SlugConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	if err := repo.Create(ctx, newProduct("Anillo", "anillo", "10.00", 5)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, newProduct("Otro", "anillo", "1.00", 1))
	if !errors.Is(err, domain.ErrSlugConflict) {
		t.Fatalf("expected ErrSlugConflict, got %v", err)
	}
}

func TestProductRepository_List_OrderedByName(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	for _, p := range []*domain.Product{
		newProduct("Collar", "collar", "20.00", 1),
		newProduct("Anillo", "anillo", "10.00", 1),
		newProduct("Pulsera", "pulsera", "15.00", 1),
	} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "Anillo" || list[1].Name != "Collar" || list[2].Name != "Pulsera" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestProductRepository_DecrementStock(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	p := newProduct("Anillo", "anillo", "10.00", 5)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := repo.DecrementStock(ctx, p.ID, 3)
	if err != nil || !ok {
		t.Fatalf("decrement 3: ok=%v err=%v", ok, err)
	}

	ok, err = repo.DecrementStock(ctx, p.ID, 3)
	if err != nil {
		t.Fatalf("decrement beyond stock: %v", err)
	}
	if ok {
		t.Fatal("decrement beyond stock must fail")
	}

	got, _ := repo.Get(ctx, p.ID)
	if got.Stock != 2 {
		t.Fatalf("stock = %d, want 2", got.Stock)
	}

	// Нулевое и отрицательное списание — no-op с успехом.
	if ok, err := repo.DecrementStock(ctx, p.ID, 0); err != nil || !ok {
		t.Fatalf("decrement 0: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.DecrementStock(ctx, p.ID, -4); err != nil || !ok {
		t.Fatalf("decrement -4: ok=%v err=%v", ok, err)
	}
	got, _ = repo.Get(ctx, p.ID)
	if got.Stock != 2 {
		t.Fatalf("stock after no-ops = %d, want 2", got.Stock)
	}
}

func TestProductRepository_IncrementStock(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()

	p := newProduct("Anillo", "anillo", "10.00", 1)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.IncrementStock(ctx, p.ID, 4); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, _ := repo.Get(ctx, p.ID)
	if got.Stock != 5 {
		t.Fatalf("stock = %d, want 5", got.Stock)
	}
}

// Запуск N конкурентных списаний по 1 при остатке N-1 даёт ровно N-1 успехов,
// одну неудачу и нулевой финальный остаток.
func TestProductRepository_DecrementStock_Concurrent(t *testing.T) {
	const n = 50

	ctx := context.Background()
	repo := NewProductRepository()
	p := newProduct("Anillo", "anillo", "10.00", n-1)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.DecrementStock(ctx, p.ID, 1)
			if err != nil {
				t.Errorf("decrement: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	failed := 0
	for ok := range results {
		if ok {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded != n-1 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want %d/1", succeeded, failed, n-1)
	}
	got, _ := repo.Get(ctx, p.ID)
	if got.Stock != 0 {
		t.Fatalf("final stock = %d, want 0", got.Stock)
	}
}

func TestProductRepository_Delete_BlockedByOrderLines(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository()
	orders := NewOrderRepository(products)

	p := newProduct("Anillo", "anillo", "10.00", 5)
	if err := products.Create(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}

	order := &domain.Order{
		Buyer:         domain.Buyer{FirstName: "Ana", LastName: "García"},
		PaymentMethod: domain.PaymentMethodCash,
		Lines:         []domain.OrderLine{{ProductID: p.ID, Quantity: 1}},
	}
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := products.Delete(ctx, p.ID); !errors.Is(err, domain.ErrProductReferenced) {
		t.Fatalf("expected ErrProductReferenced, got %v", err)
	}

	// Без ссылок удаление проходит.
	free := newProduct("Collar", "collar", "1.00", 1)
	if err := products.Create(ctx, free); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := products.Delete(ctx, free.ID); err != nil {
		t.Fatalf("delete unreferenced: %v", err)
	}
}
