package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/cart"
	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type checkoutEnv struct {
	carts    *memory.CartStore
	products *memory.ProductRepository
	orders   *memory.OrderRepository
	outbox   *memory.OutboxRepository
	timeline *memory.TimelineRepository
	service  *Service
	a, b     domain.Product
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()
	ctx := context.Background()

	env := &checkoutEnv{
		carts:    memory.NewCartStore(),
		products: memory.NewProductRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
	}
	env.orders = memory.NewOrderRepository(env.products)
	env.service = NewService(env.carts, env.products, env.orders, env.outbox, env.timeline, nil, nil)

	a := &domain.Product{Name: "A", Slug: "a", Price: decimal.RequireFromString("10.00"), Stock: 5}
	b := &domain.Product{Name: "B", Slug: "b", Price: decimal.RequireFromString("5.00"), Stock: 2}
	require.NoError(t, env.products.Create(ctx, a))
	require.NoError(t, env.products.Create(ctx, b))
	env.a, env.b = *a, *b

	return env
}

func (env *checkoutEnv) fillCart(t *testing.T, session string, qtyA, qtyB int) {
	t.Helper()
	ctx := context.Background()

	c, err := cart.New(ctx, env.carts, env.products, session)
	require.NoError(t, err)
	if qtyA > 0 {
		require.NoError(t, c.Add(ctx, env.a.ID, qtyA, false))
	}
	if qtyB > 0 {
		require.NoError(t, c.Add(ctx, env.b.ID, qtyB, false))
	}
	require.NoError(t, c.Flush(ctx))
}

func sampleBuyer() domain.Buyer {
	return domain.Buyer{
		FirstName: "Juan",
		LastName:  "Pérez",
		DNI:       "30123456",
		Address:   "Av. Siempre Viva 742",
	}
}

func TestService_CheckoutHappyPath(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 3, 2)

	result, err := env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodCard)
	require.NoError(t, err)

	order := result.Order
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.True(t, order.Total.Equal(decimal.RequireFromString("40.00")), "total = %s", order.Total)
	require.Len(t, order.Lines, 2)
	require.Empty(t, result.Adjustments)

	// Сток списан.
	a, _ := env.products.Get(ctx, env.a.ID)
	b, _ := env.products.Get(ctx, env.b.ID)
	require.Equal(t, 2, a.Stock)
	require.Equal(t, 0, b.Stock)

	// Корзина очищена.
	data, err := env.carts.Load(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, data)

	// Событие order.confirmed встало в outbox.
	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "order.confirmed", pending[0].EventType)

	var payload struct {
		OrderID int64  `json:"order_id"`
		Total   string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, "40.00", payload.Total)

	// Timeline содержит создание и подтверждение.
	events, err := env.timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, domain.TimelineOrderConfirmed, events[1].Type)
}

func TestService_CheckoutEmptyCart(t *testing.T) {
	env := newCheckoutEnv(t)

	_, err := env.service.Checkout(context.Background(), "empty", sampleBuyer(), domain.PaymentMethodCash)
	require.ErrorIs(t, err, domain.ErrCartEmpty)
}

func TestService_CheckoutShortageCapsCart(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 3, 2)

	// Другой покупатель успевает забрать единицу B до оформления.
	ok, err := env.products.DecrementStock(ctx, env.b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	rejected, err := env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodCard)
	var shortage *domain.StockShortageError
	require.ErrorAs(t, err, &shortage)
	require.Len(t, shortage.Shortages, 1)
	require.Equal(t, "«B»: pedido 2, disponible 1", shortage.Shortages[0].String())
	require.Len(t, rejected.Adjustments, 1)

	// Заказ не сохранён, сток не тронут.
	orders, err := env.orders.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, orders)
	a, _ := env.products.Get(ctx, env.a.ID)
	require.Equal(t, 5, a.Stock)

	// Корзина урезана до доступного остатка и сохранена.
	c, err := cart.New(ctx, env.carts, env.products, "s1")
	require.NoError(t, err)
	require.Equal(t, 4, c.Units())

	// Повторное оформление после урезания проходит.
	result, err := env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodCard)
	require.NoError(t, err)
	require.True(t, result.Order.Total.Equal(decimal.RequireFromString("35.00")), "total = %s", result.Order.Total)
}

func TestService_CheckoutShortageSkipsSideEffects(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 0, 2)

	ok, err := env.products.DecrementStock(ctx, env.b.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodCard)
	require.True(t, domain.IsStockShortage(err))

	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending, "rejected checkout must not publish events")
}

func TestService_CheckoutInvalidOrder(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 1, 0)

	_, err := env.service.Checkout(ctx, "s1", domain.Buyer{}, domain.PaymentMethodCard)
	require.ErrorIs(t, err, domain.ErrBuyerRequired)

	_, err = env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethod("bitcoin"))
	require.ErrorIs(t, err, domain.ErrPaymentMethodInvalid)

	// Ошибка валидации не трогает ни сток, ни корзину.
	a, _ := env.products.Get(ctx, env.a.ID)
	require.Equal(t, 5, a.Stock)
	c, err := cart.New(ctx, env.carts, env.products, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, c.Units())
}

func TestService_CheckoutPriceSnapshotBeatsLivePrice(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 2, 0)

	result, err := env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodMercadoPago)
	require.NoError(t, err)
	require.True(t, result.Order.Total.Equal(decimal.RequireFromString("20.00")))

	// Итог заказа не зависит от последующих изменений цены.
	require.Len(t, result.Order.Lines, 1)
	require.True(t, result.Order.Lines[0].Price.Equal(decimal.RequireFromString("10.00")))
}

func TestService_CheckoutPlaceErrorPassthrough(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	env.fillCart(t, "s1", 1, 0)

	// Товар исчезает между наполнением корзины и оформлением: корзина молча
	// выбрасывает строку, и оформление завершается как пустое.
	require.NoError(t, env.orders.Create(ctx, &domain.Order{
		Buyer:         sampleBuyer(),
		PaymentMethod: domain.PaymentMethodCard,
		Status:        domain.OrderStatusDraft,
		Lines:         []domain.OrderLine{domain.NewOrderLine(env.b, 1)},
	}))
	require.NoError(t, env.products.Delete(ctx, env.a.ID))

	_, err := env.service.Checkout(ctx, "s1", sampleBuyer(), domain.PaymentMethodCard)
	require.True(t, errors.Is(err, domain.ErrCartEmpty), "got %v", err)
}
