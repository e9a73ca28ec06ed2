package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/checkout"
	"github.com/vladislavdragonenkov/shop/internal/service/httpapi"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

// recordingPublisher собирает опубликованные события вместо брокера.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OutboxMessage, len(p.events))
	copy(out, p.events)
	return out
}

// CheckoutFlowTestSuite проверяет полный путь покупателя через HTTP API:
// каталог -> корзина -> оформление -> события.
type CheckoutFlowTestSuite struct {
	suite.Suite
	products  *memory.ProductRepository
	orders    *memory.OrderRepository
	outbox    *memory.OutboxRepository
	timeline  *memory.TimelineRepository
	publisher *recordingPublisher
	worker    *outbox.Worker
	server    *httptest.Server
}

func (s *CheckoutFlowTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	s.products = memory.NewProductRepository()
	s.orders = memory.NewOrderRepository(s.products)
	s.outbox = memory.NewOutboxRepository()
	s.timeline = memory.NewTimelineRepository()
	carts := memory.NewCartStore()
	idempotency := memory.NewIdempotencyRepository()

	s.publisher = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.outbox, s.publisher, outbox.WithLogger(logger))

	checkoutService := checkout.NewService(carts, s.products, s.orders, s.outbox, s.timeline, nil, logger)
	handler := httpapi.NewHandler(s.products, s.orders, carts, s.timeline, s.outbox, idempotency, checkoutService, logger)

	s.server = httptest.NewServer(handler.Router())
}

func (s *CheckoutFlowTestSuite) TearDownTest() {
	s.server.Close()
}

// newSession возвращает HTTP-клиент с собственной cookie-сессией корзины.
func (s *CheckoutFlowTestSuite) newSession() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(s.T(), err)
	return &http.Client{Jar: jar}
}

func (s *CheckoutFlowTestSuite) request(client *http.Client, method, path string, body any, headers ...string) *http.Response {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		require.NoError(s.T(), err)
	}

	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(encoded))
	require.NoError(s.T(), err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := client.Do(req)
	require.NoError(s.T(), err)
	return resp
}

func (s *CheckoutFlowTestSuite) decode(resp *http.Response, dst any) {
	defer resp.Body.Close()
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(dst))
}

func (s *CheckoutFlowTestSuite) createProduct(name, slug, price string, stock int) int64 {
	resp := s.request(s.newSession(), http.MethodPost, "/api/products", map[string]any{
		"name": name, "slug": slug, "price": price, "stock": stock,
	})
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)

	var created struct {
		ID int64 `json:"id"`
	}
	s.decode(resp, &created)
	require.NotZero(s.T(), created.ID)
	return created.ID
}

func (s *CheckoutFlowTestSuite) addToCart(client *http.Client, productID int64, qty int) *http.Response {
	return s.request(client, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID,
		"quantity":   qty,
	})
}

func buyer() map[string]any {
	return map[string]any{
		"first_name":     "Juan",
		"last_name":      "Pérez",
		"dni":            "30123456",
		"address":        "Av. Siempre Viva 742",
		"payment_method": "card",
	}
}

func (s *CheckoutFlowTestSuite) TestSuccessfulCheckoutFlow() {
	laptopID := s.createProduct("Laptop Pro", "laptop-pro", "1999.00", 3)
	mouseID := s.createProduct("Mouse Wireless", "mouse-wireless", "49.99", 10)

	client := s.newSession()

	// 1. Наполняем корзину.
	resp := s.addToCart(client, laptopID, 1)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = s.addToCart(client, mouseID, 2)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var cart struct {
		Units int    `json:"units"`
		Total string `json:"total"`
	}
	s.decode(resp, &cart)
	require.Equal(s.T(), 3, cart.Units)
	require.Equal(s.T(), "2098.98", cart.Total) // 1999.00 + 2*49.99

	// 2. Оформляем заказ.
	resp = s.request(client, http.MethodPost, "/api/checkout", buyer())
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)

	var out struct {
		Order struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
			Total  string `json:"total"`
		} `json:"order"`
	}
	s.decode(resp, &out)
	require.Equal(s.T(), "confirmed", out.Order.Status)
	require.Equal(s.T(), "2098.98", out.Order.Total)

	// 3. Сток списан атомарно.
	ctx := context.Background()
	laptop, err := s.products.Get(ctx, laptopID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 2, laptop.Stock)
	mouse, err := s.products.Get(ctx, mouseID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 8, mouse.Stock)

	// 4. Outbox worker доставляет событие подтверждения.
	s.worker.ProcessOnce(ctx)
	events := s.publisher.Events()
	require.Len(s.T(), events, 1)
	require.Equal(s.T(), "order.confirmed", events[0].EventType)
	require.Equal(s.T(), fmt.Sprintf("%d", out.Order.ID), events[0].AggregateID)

	stats, err := s.outbox.Stats()
	require.NoError(s.T(), err)
	require.Zero(s.T(), stats.PendingCount)

	// 5. Timeline хранит жизненный цикл заказа.
	timeline, err := s.timeline.List(ctx, out.Order.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), timeline, 2)
	require.Equal(s.T(), domain.TimelineOrderCreated, timeline[0].Type)
	require.Equal(s.T(), domain.TimelineOrderConfirmed, timeline[1].Type)
}

func (s *CheckoutFlowTestSuite) TestShortageLeavesNothingBehind() {
	productID := s.createProduct("Teclado", "teclado", "25.00", 2)

	first := s.newSession()
	second := s.newSession()

	// Оба покупателя целятся в один и тот же остаток.
	resp := s.addToCart(first, productID, 2)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = s.addToCart(second, productID, 2)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Первый успевает, второй получает нехватку.
	resp = s.request(first, http.MethodPost, "/api/checkout", buyer())
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(second, http.MethodPost, "/api/checkout", buyer())
	require.Equal(s.T(), http.StatusConflict, resp.StatusCode)

	var conflict struct {
		Error       string   `json:"error"`
		Shortages   []string `json:"shortages"`
		Adjustments []string `json:"adjustments"`
	}
	s.decode(resp, &conflict)
	require.Len(s.T(), conflict.Shortages, 1)
	require.Equal(s.T(), "«Teclado»: pedido 2, disponible 0", conflict.Shortages[0])
	require.NotEmpty(s.T(), conflict.Adjustments)

	// Отклонённое оформление не оставляет ни заказа, ни событий.
	ctx := context.Background()
	orders, err := s.orders.List(ctx, 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), orders, 1)

	s.worker.ProcessOnce(ctx)
	require.Len(s.T(), s.publisher.Events(), 1)

	// Корзина второго урезана до нуля: повторное оформление — пустая корзина.
	resp = s.request(second, http.MethodPost, "/api/checkout", buyer())
	require.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *CheckoutFlowTestSuite) TestIdempotentCheckoutReplay() {
	productID := s.createProduct("Monitor", "monitor", "300.00", 5)

	client := s.newSession()
	resp := s.addToCart(client, productID, 1)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(client, http.MethodPost, "/api/checkout", buyer(), "Idempotency-Key", "flow-1")
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	var first struct {
		Order struct {
			ID int64 `json:"id"`
		} `json:"order"`
	}
	s.decode(resp, &first)

	resp = s.request(client, http.MethodPost, "/api/checkout", buyer(), "Idempotency-Key", "flow-1")
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	var replay struct {
		Order struct {
			ID int64 `json:"id"`
		} `json:"order"`
	}
	s.decode(resp, &replay)
	require.Equal(s.T(), first.Order.ID, replay.Order.ID)

	orders, err := s.orders.List(context.Background(), 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), orders, 1)

	// И ровно одно событие после доставки.
	s.worker.ProcessOnce(context.Background())
	require.Len(s.T(), s.publisher.Events(), 1)
}

func (s *CheckoutFlowTestSuite) TestRestockReopensSales() {
	productID := s.createProduct("Auriculares", "auriculares", "80.00", 1)

	client := s.newSession()
	resp := s.addToCart(client, productID, 1)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(client, http.MethodPost, "/api/checkout", buyer())
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Товар закончился: добавление в корзину отклоняется.
	resp = s.addToCart(s.newSession(), productID, 1)
	require.Equal(s.T(), http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Пополнение возвращает товар в продажу.
	resp = s.request(s.newSession(), http.MethodPost, fmt.Sprintf("/api/products/%d/restock", productID), map[string]any{"quantity": 10})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var restocked struct {
		Stock int `json:"stock"`
	}
	s.decode(resp, &restocked)
	require.Equal(s.T(), 10, restocked.Stock)

	resp = s.addToCart(s.newSession(), productID, 1)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCheckoutFlowTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutFlowTestSuite))
}
