package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/cart"
)

type cartLineView struct {
	Product  productView `json:"product"`
	Quantity int         `json:"quantity"`
	Subtotal string      `json:"subtotal"`
	Valid    bool        `json:"valid"`
}

type cartView struct {
	Lines       []cartLineView `json:"lines"`
	Units       int            `json:"units"`
	Total       string         `json:"total"`
	Valid       bool           `json:"valid"`
	Problems    []string       `json:"problems,omitempty"`
	Adjustments []string       `json:"adjustments,omitempty"`
}

func (h *Handler) openCart(w http.ResponseWriter, r *http.Request) (*cart.Cart, error) {
	return cart.New(r.Context(), h.carts, h.products, h.sessionID(w, r))
}

func (h *Handler) renderCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, status int) {
	h.renderCartView(w, r, c, status, nil)
}

func (h *Handler) renderCartWithAdjustments(w http.ResponseWriter, r *http.Request, c *cart.Cart, adjustments []string) {
	h.renderCartView(w, r, c, http.StatusOK, adjustments)
}

func (h *Handler) renderCartView(w http.ResponseWriter, r *http.Request, c *cart.Cart, status int, adjustments []string) {
	ctx := r.Context()

	lines, err := c.Lines(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	valid, problems, err := c.ValidateStock(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	total, err := c.Total(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := c.Flush(ctx); err != nil {
		h.writeError(w, err)
		return
	}

	view := cartView{
		Lines:       make([]cartLineView, 0, len(lines)),
		Units:       c.Units(),
		Total:       total.StringFixed(2),
		Valid:       valid,
		Problems:    problems,
		Adjustments: adjustments,
	}
	for i := range lines {
		view.Lines = append(view.Lines, cartLineView{
			Product:  newProductView(lines[i].Product),
			Quantity: lines[i].Quantity,
			Subtotal: lines[i].Subtotal.StringFixed(2),
			Valid:    lines[i].Valid,
		})
	}

	h.writeJSON(w, status, view)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.openCart(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.renderCart(w, r, c, http.StatusOK)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
		Override  bool  `json:"override"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.openCart(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := c.Add(r.Context(), req.ProductID, req.Quantity, req.Override); err != nil {
		h.writeError(w, err)
		return
	}
	h.renderCart(w, r, c, http.StatusOK)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return
	}

	c, err := h.openCart(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c.Remove(id)
	h.renderCart(w, r, c, http.StatusOK)
}

// capCart урезает корзину до доступных остатков и возвращает её вместе
// со списком сделанных изменений.
func (h *Handler) capCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.openCart(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	adjustments, err := c.CapToStock(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.renderCartWithAdjustments(w, r, c, adjustments)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.openCart(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c.Clear()
	if err := c.Flush(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}
