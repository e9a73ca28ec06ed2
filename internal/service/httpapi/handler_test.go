package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/checkout"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type apiEnv struct {
	products    *memory.ProductRepository
	orders      *memory.OrderRepository
	carts       *memory.CartStore
	outbox      *memory.OutboxRepository
	timeline    *memory.TimelineRepository
	idempotency *memory.IdempotencyRepository
	server      *httptest.Server
	client      *http.Client
	a, b        domain.Product
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	env := &apiEnv{
		products:    memory.NewProductRepository(),
		carts:       memory.NewCartStore(),
		outbox:      memory.NewOutboxRepository(),
		timeline:    memory.NewTimelineRepository(),
		idempotency: memory.NewIdempotencyRepository(),
	}
	env.orders = memory.NewOrderRepository(env.products)

	checkoutService := checkout.NewService(env.carts, env.products, env.orders, env.outbox, env.timeline, nil, nil)
	handler := NewHandler(env.products, env.orders, env.carts, env.timeline, env.outbox, env.idempotency, checkoutService, nil)

	env.server = httptest.NewServer(handler.Router())
	t.Cleanup(env.server.Close)

	jar := newCookieJar(t)
	env.client = &http.Client{Jar: jar}

	a := &domain.Product{Name: "A", Slug: "a", Price: decimal.RequireFromString("10.00"), Stock: 5}
	b := &domain.Product{Name: "B", Slug: "b", Price: decimal.RequireFromString("5.00"), Stock: 2}
	require.NoError(t, env.products.Create(ctx, a))
	require.NoError(t, env.products.Create(ctx, b))
	env.a, env.b = *a, *b

	return env
}

func newCookieJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := env.client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (env *apiEnv) addToCart(t *testing.T, productID int64, qty int) *http.Response {
	t.Helper()
	return env.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID,
		"quantity":   qty,
	})
}

func checkoutBody() map[string]any {
	return map[string]any{
		"first_name":     "Juan",
		"last_name":      "Pérez",
		"dni":            "30123456",
		"address":        "Av. Siempre Viva 742",
		"payment_method": "card",
	}
}

func TestAPI_SessionCookieIssued(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == "shop_sid" && c.Value != "" {
			found = true
		}
	}
	require.True(t, found, "first cart request must set the session cookie")

	// Повторный запрос с cookie новую сессию не выдаёт.
	resp = env.do(t, http.MethodGet, "/api/cart", nil)
	resp.Body.Close()
	for _, c := range resp.Cookies() {
		require.NotEqual(t, "shop_sid", c.Name)
	}
}

func TestAPI_CartAddAndInsufficientStock(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.addToCart(t, env.b.ID, 2)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view cartView
	decodeBody(t, resp, &view)
	require.Equal(t, 2, view.Units)
	require.Equal(t, "10.00", view.Total)

	// Запрос сверх остатка отклоняется испанским сообщением, корзина не меняется.
	resp = env.addToCart(t, env.b.ID, 1)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "solo hay 2 unidades disponibles de «B»", body.Error)

	resp = env.do(t, http.MethodGet, "/api/cart", nil)
	decodeBody(t, resp, &view)
	require.Equal(t, 2, view.Units)
}

func TestAPI_CartRemoveAndClear(t *testing.T) {
	env := newAPIEnv(t)

	env.addToCart(t, env.a.ID, 2).Body.Close()
	env.addToCart(t, env.b.ID, 1).Body.Close()

	resp := env.do(t, http.MethodDelete, fmt.Sprintf("/api/cart/items/%d", env.b.ID), nil)
	var view cartView
	decodeBody(t, resp, &view)
	require.Equal(t, 2, view.Units)
	require.Len(t, view.Lines, 1)

	resp = env.do(t, http.MethodDelete, "/api/cart", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/cart", nil)
	decodeBody(t, resp, &view)
	require.Equal(t, 0, view.Units)
}

func TestAPI_CartCapToStock(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	env.addToCart(t, env.b.ID, 2).Body.Close()

	// Остаток падает до единицы, урезание приводит корзину в порядок.
	ok, err := env.products.DecrementStock(ctx, env.b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	resp := env.do(t, http.MethodPost, "/api/cart/cap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view cartView
	decodeBody(t, resp, &view)
	require.Equal(t, 1, view.Units)
	require.True(t, view.Valid)
	require.Len(t, view.Adjustments, 1)
}

func TestAPI_CheckoutHappyPath(t *testing.T) {
	env := newAPIEnv(t)
	env.addToCart(t, env.a.ID, 3).Body.Close()
	env.addToCart(t, env.b.ID, 2).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out checkoutResponse
	decodeBody(t, resp, &out)
	require.Equal(t, "confirmed", out.Order.Status)
	require.Equal(t, "40.00", out.Order.Total)
	require.Len(t, out.Order.Lines, 2)
	require.Empty(t, out.Adjustments)

	// Корзина после оформления пустая.
	resp = env.do(t, http.MethodGet, "/api/cart", nil)
	var view cartView
	decodeBody(t, resp, &view)
	require.Equal(t, 0, view.Units)
}

func TestAPI_CheckoutEmptyCart(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Equal(t, domain.ErrCartEmpty.Error(), body.Error)
}

func TestAPI_CheckoutShortage(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	env.addToCart(t, env.b.ID, 2).Body.Close()

	// Единицу B забирают до оформления.
	ok, err := env.products.DecrementStock(ctx, env.b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody())
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	require.Len(t, body.Shortages, 1)
	require.Equal(t, "«B»: pedido 2, disponible 1", body.Shortages[0])
	require.Len(t, body.Adjustments, 1)

	// Заказ не создан, корзина урезана до доступного остатка.
	orders, err := env.orders.List(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, orders)

	resp = env.do(t, http.MethodGet, "/api/cart", nil)
	var view cartView
	decodeBody(t, resp, &view)
	require.Equal(t, 1, view.Units)
}

func TestAPI_CheckoutIdempotentReplay(t *testing.T) {
	env := newAPIEnv(t)
	env.addToCart(t, env.a.ID, 2).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first checkoutResponse
	decodeBody(t, resp, &first)

	// Повтор с тем же ключом и телом возвращает сохранённый ответ,
	// второй заказ не появляется.
	resp = env.do(t, http.MethodPost, "/api/checkout", checkoutBody(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var replay checkoutResponse
	decodeBody(t, resp, &replay)
	require.Equal(t, first.Order.ID, replay.Order.ID)
	require.Equal(t, first.Order.Total, replay.Order.Total)

	orders, err := env.orders.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestAPI_CheckoutIdempotencyHashMismatch(t *testing.T) {
	env := newAPIEnv(t)
	env.addToCart(t, env.a.ID, 1).Body.Close()

	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody(), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	other := checkoutBody()
	other["payment_method"] = "cash"
	resp = env.do(t, http.MethodPost, "/api/checkout", other, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_CheckoutIdempotentFailureReplay(t *testing.T) {
	env := newAPIEnv(t)

	// Пустая корзина: первый запрос завершается 400, повтор возвращает тот же ответ.
	resp := env.do(t, http.MethodPost, "/api/checkout", checkoutBody(), "Idempotency-Key", "k-fail")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/checkout", checkoutBody(), "Idempotency-Key", "k-fail")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Equal(t, domain.ErrCartEmpty.Error(), body.Error)
}

func TestAPI_ProductCRUD(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/products", map[string]any{
		"name": "C", "slug": "c", "price": "7.50", "stock": 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created productView
	decodeBody(t, resp, &created)
	require.NotZero(t, created.ID)
	require.Equal(t, "7.50", created.Price)

	// Дубликат slug.
	resp = env.do(t, http.MethodPost, "/api/products", map[string]any{
		"name": "C2", "slug": "c", "price": "1.00", "stock": 1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Кривая цена.
	resp = env.do(t, http.MethodPost, "/api/products", map[string]any{
		"name": "D", "slug": "d", "price": "not-a-number", "stock": 1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/products/c", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got productView
	decodeBody(t, resp, &got)
	require.Equal(t, created.ID, got.ID)

	resp = env.do(t, http.MethodGet, "/api/products/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/products/%d", created.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/products/%d", created.ID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_ProductRestock(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/products/%d/restock", env.b.ID), map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view productView
	decodeBody(t, resp, &view)
	require.Equal(t, 5, view.Stock)

	// Событие пополнения встало в outbox.
	pending, err := env.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "product.restocked", pending[0].EventType)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/products/%d/restock", env.b.ID), map[string]any{"quantity": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_OrderLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"first_name":     "Ana",
		"last_name":      "García",
		"payment_method": "cash",
		"lines": []map[string]any{
			{"product_id": env.a.ID, "quantity": 2},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var draft orderView
	decodeBody(t, resp, &draft)
	require.Equal(t, "draft", draft.Status)

	// Черновик не резервирует сток.
	var got productView
	resp = env.do(t, http.MethodGet, "/api/products/a", nil)
	decodeBody(t, resp, &got)
	require.Equal(t, 5, got.Stock)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", draft.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed orderView
	decodeBody(t, resp, &confirmed)
	require.Equal(t, "confirmed", confirmed.Status)
	require.Equal(t, "20.00", confirmed.Total)

	resp = env.do(t, http.MethodGet, "/api/products/a", nil)
	decodeBody(t, resp, &got)
	require.Equal(t, 3, got.Stock)

	// Подтверждённый заказ больше не переводится.
	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", draft.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", draft.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d/timeline", draft.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []timelineEventView
	decodeBody(t, resp, &events)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, domain.TimelineOrderConfirmed, events[1].Type)

	resp = env.do(t, http.MethodGet, "/api/orders", nil)
	var list []orderView
	decodeBody(t, resp, &list)
	require.Len(t, list, 1)
}

func TestAPI_OrderConfirmShortage(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	resp := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"first_name":     "Ana",
		"last_name":      "García",
		"payment_method": "card",
		"lines": []map[string]any{
			{"product_id": env.b.ID, "quantity": 2},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var draft orderView
	decodeBody(t, resp, &draft)

	ok, err := env.products.DecrementStock(ctx, env.b.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", draft.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body errorResponse
	decodeBody(t, resp, &body)
	require.Len(t, body.Shortages, 1)
	require.Equal(t, "«B»: pedido 2, disponible 1", body.Shortages[0])

	// Заказ остаётся черновиком, событие нехватки попадает в timeline.
	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", draft.ID), nil)
	var still orderView
	decodeBody(t, resp, &still)
	require.Equal(t, "draft", still.Status)

	events, err := env.timeline.List(ctx, draft.ID)
	require.NoError(t, err)
	var shortageSeen bool
	for _, e := range events {
		if e.Type == domain.TimelineOrderShortage {
			shortageSeen = true
		}
	}
	require.True(t, shortageSeen)
}

func TestAPI_OrderNotFound(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/orders/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/orders/999/timeline", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
