package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// HTTP-заголовок с ключом идемпотентности оформления.
const idempotencyKeyHeader = "Idempotency-Key"

// Срок жизни записи идемпотентности: повтор в этом окне вернёт сохранённый ответ.
const idempotencyTTL = 24 * time.Hour

type checkoutRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	DNI           string `json:"dni"`
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

type checkoutResponse struct {
	Order       orderView `json:"order"`
	Adjustments []string  `json:"adjustments,omitempty"`
}

// postCheckout оформляет заказ по корзине текущей сессии.
//
// При наличии заголовка Idempotency-Key повтор запроса с тем же телом вернёт
// сохранённый ответ первого выполнения; повтор с другим телом — 422; повтор,
// пока первый запрос ещё обрабатывается, — 409.
func (h *Handler) postCheckout(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if h.idempotency == nil || key == "" {
		status, body := h.runCheckout(w, r, req)
		h.writeRaw(w, status, body)
		return
	}

	hash := requestHash(raw)
	if _, err := h.idempotency.CreateProcessing(key, hash, time.Now().Add(idempotencyTTL)); err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			h.writeError(w, err)
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			h.replayIdempotent(w, key)
		default:
			h.writeError(w, err)
		}
		return
	}

	status, body := h.runCheckout(w, r, req)

	var markErr error
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		markErr = h.idempotency.MarkDone(key, body, status)
	} else {
		markErr = h.idempotency.MarkFailed(key, body, status)
	}
	if markErr != nil {
		h.logger.WithError(markErr).WithField("key", key).Warn("failed to finalize idempotency record")
	}

	h.writeRaw(w, status, body)
}

// runCheckout выполняет оформление и возвращает готовые статус и JSON-тело,
// не записывая их в ответ: тело нужно и клиенту, и записи идемпотентности.
func (h *Handler) runCheckout(w http.ResponseWriter, r *http.Request, req checkoutRequest) (int, []byte) {
	buyer := domain.Buyer{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		DNI:       req.DNI,
		Address:   req.Address,
	}

	result, err := h.checkout.Checkout(r.Context(), h.sessionID(w, r), buyer, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		return h.encodeCheckoutError(err, result.Adjustments)
	}

	body, encodeErr := json.Marshal(checkoutResponse{
		Order:       newOrderView(result.Order),
		Adjustments: result.Adjustments,
	})
	if encodeErr != nil {
		h.logger.WithError(encodeErr).Error("failed to encode checkout response")
		return h.encodeCheckoutError(encodeErr, nil)
	}
	return http.StatusCreated, body
}

// encodeCheckoutError строит тот же JSON, что и writeError, но в виде байтов.
func (h *Handler) encodeCheckoutError(err error, adjustments []string) (int, []byte) {
	rec := newRecorder()
	h.writeError(rec, err)

	if len(adjustments) > 0 {
		var body errorResponse
		if json.Unmarshal(rec.body.Bytes(), &body) == nil {
			body.Adjustments = adjustments
			if encoded, encodeErr := json.Marshal(body); encodeErr == nil {
				return rec.status, encoded
			}
		}
	}
	return rec.status, rec.body.Bytes()
}

// replayIdempotent отвечает на повторный запрос по уже известному ключу.
func (h *Handler) replayIdempotent(w http.ResponseWriter, key string) {
	record, err := h.idempotency.Get(key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if record.Status.Terminal() {
		h.writeRaw(w, record.HTTPStatus, record.ResponseBody)
		return
	}
	h.writeJSON(w, http.StatusConflict, errorResponse{Error: "request is still being processed"})
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			h.logger.WithError(err).Warn("failed to write response")
		}
	}
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// recorder буферизует ответ, чтобы его можно было и отдать клиенту,
// и сохранить в записи идемпотентности.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }
