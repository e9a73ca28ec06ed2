// Package httpapi реализует REST-интерфейс магазина: каталог, корзина,
// оформление и просмотр заказов.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/checkout"
)

// Имя cookie с идентификатором сессии корзины.
const sessionCookie = "shop_sid"

// Handler связывает HTTP-маршруты с сервисами магазина.
type Handler struct {
	products    domain.ProductRepository
	orders      domain.OrderRepository
	carts       domain.CartStore
	timeline    domain.TimelineRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	checkout    *checkout.Service
	logger      *log.Entry
}

// NewHandler создаёт HTTP-handler. timeline, outbox и idempotency опциональны.
func NewHandler(
	products domain.ProductRepository,
	orders domain.OrderRepository,
	carts domain.CartStore,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	idempotency domain.IdempotencyRepository,
	checkoutService *checkout.Service,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		products:    products,
		orders:      orders,
		carts:       carts,
		timeline:    timeline,
		outbox:      outbox,
		idempotency: idempotency,
		checkout:    checkoutService,
		logger:      logger,
	}
}

// Router собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Get("/{slug}", h.getProduct)
			r.Delete("/{id:[0-9]+}", h.deleteProduct)
			r.Post("/{id:[0-9]+}/restock", h.restockProduct)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Post("/items", h.addCartItem)
			r.Delete("/items/{id:[0-9]+}", h.removeCartItem)
			r.Post("/cap", h.capCart)
		})

		r.Post("/checkout", h.postCheckout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Post("/", h.createOrder)
			r.Get("/{id:[0-9]+}", h.getOrder)
			r.Post("/{id:[0-9]+}/confirm", h.confirmOrder)
			r.Post("/{id:[0-9]+}/cancel", h.cancelOrder)
			r.Get("/{id:[0-9]+}/timeline", h.getOrderTimeline)
		})
	})

	return r
}

// sessionID достаёт идентификатор сессии корзины из cookie; при отсутствии
// выдаёт новый и ставит cookie на ответ.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}
