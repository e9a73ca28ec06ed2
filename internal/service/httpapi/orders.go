package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type orderLineView struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`
}

type orderView struct {
	ID            int64           `json:"id"`
	Buyer         buyerView       `json:"buyer"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Total         string          `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []orderLineView `json:"lines"`
}

type buyerView struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DNI       string `json:"dni,omitempty"`
	Address   string `json:"address,omitempty"`
}

type timelineEventView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func newOrderView(order domain.Order) orderView {
	view := orderView{
		ID: order.ID,
		Buyer: buyerView{
			FirstName: order.Buyer.FirstName,
			LastName:  order.Buyer.LastName,
			DNI:       order.Buyer.DNI,
			Address:   order.Buyer.Address,
		},
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		Total:         order.Total.StringFixed(2),
		CreatedAt:     order.CreatedAt,
		Lines:         make([]orderLineView, 0, len(order.Lines)),
	}
	for i := range order.Lines {
		line := &order.Lines[i]
		view.Lines = append(view.Lines, orderLineView{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price.StringFixed(2),
			Subtotal:  line.Subtotal().StringFixed(2),
		})
	}
	return view
}

type orderRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	DNI           string `json:"dni"`
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
	Lines         []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"lines"`
}

func (req *orderRequest) toOrder(ctx context.Context, products domain.ProductRepository) (domain.Order, error) {
	order := domain.Order{
		Buyer: domain.Buyer{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			DNI:       req.DNI,
			Address:   req.Address,
		},
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Status:        domain.OrderStatusDraft,
		Lines:         make([]domain.OrderLine, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		product, err := products.Get(ctx, l.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		order.Lines = append(order.Lines, domain.NewOrderLine(product, l.Quantity))
	}
	return order, nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	orders, err := h.orders.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, newOrderView(order))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// createOrder создаёт черновик заказа напрямую, минуя корзину.
// Сток при этом не резервируется: резервирование выполняет confirm.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := req.toOrder(r.Context(), h.products)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.orders.Create(r.Context(), &order); err != nil {
		h.writeError(w, err)
		return
	}

	h.appendTimeline(r, order.ID, domain.TimelineOrderCreated, "")
	h.writeJSON(w, http.StatusCreated, newOrderView(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Confirm(r.Context(), id)
	if err != nil {
		if domain.IsStockShortage(err) {
			h.appendTimeline(r, id, domain.TimelineOrderShortage, err.Error())
		}
		h.writeError(w, err)
		return
	}

	h.appendTimeline(r, order.ID, domain.TimelineOrderConfirmed, "")
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.appendTimeline(r, order.ID, domain.TimelineOrderCancelled, "")
	h.writeJSON(w, http.StatusOK, newOrderView(order))
}

func (h *Handler) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if h.timeline == nil {
		h.writeJSON(w, http.StatusOK, []timelineEventView{})
		return
	}

	// 404 для несуществующего заказа, а не пустой список.
	if _, err := h.orders.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	events, err := h.timeline.List(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]timelineEventView, 0, len(events))
	for _, e := range events {
		views = append(views, timelineEventView{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) appendTimeline(r *http.Request, orderID int64, eventType, reason string) {
	if h.timeline == nil {
		return
	}
	if err := h.timeline.Append(r.Context(), domain.TimelineEvent{
		OrderID: orderID,
		Type:    eventType,
		Reason:  reason,
	}); err != nil {
		h.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}
