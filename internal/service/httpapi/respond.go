package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type errorResponse struct {
	Error       string   `json:"error"`
	Shortages   []string `json:"shortages,omitempty"`
	Adjustments []string `json:"adjustments,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

// writeError переводит доменную ошибку в HTTP-статус и JSON-тело.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var shortage *domain.StockShortageError
	if errors.As(err, &shortage) {
		body := errorResponse{Error: shortage.Error()}
		for _, s := range shortage.Shortages {
			body.Shortages = append(body.Shortages, s.String())
		}
		h.writeJSON(w, http.StatusConflict, body)
		return
	}

	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: insufficient.Error()})
		return
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrSlugConflict),
		errors.Is(err, domain.ErrProductReferenced),
		errors.Is(err, domain.ErrOrderNotDraft):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrQuantityInvalid),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrBuyerRequired),
		errors.Is(err, domain.ErrPaymentMethodInvalid),
		errors.Is(err, domain.ErrOrderLinesRequired),
		errors.Is(err, domain.ErrLineQtyInvalid),
		errors.Is(err, domain.ErrLinePriceInvalid),
		errors.Is(err, domain.ErrProductNameRequired),
		errors.Is(err, domain.ErrProductSlugRequired),
		errors.Is(err, domain.ErrProductPriceInvalid),
		errors.Is(err, domain.ErrProductStockNegative):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).Error("internal error")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}
