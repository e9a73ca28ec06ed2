package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отрицательного или нечислового количества во входных данных.
	ErrQuantityInvalid = errors.New("quantity must be a positive integer")
	// Ошибка отсутствующего имени товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отсутствующего slug товара.
	ErrProductSlugRequired = errors.New("product slug is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка.
	ErrProductStockNegative = errors.New("product stock must be non-negative")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrSlugConflict возвращается при попытке сохранить товар с занятым slug.
	ErrSlugConflict = errors.New("product slug already exists")
	// ErrProductReferenced блокирует удаление товара, на который ссылаются позиции заказов.
	ErrProductReferenced = errors.New("product is referenced by order lines")
	// Ошибка отсутствующих данных покупателя.
	ErrBuyerRequired = errors.New("buyer name is required")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method is not supported")
	// Ошибка неподдерживаемого статуса заказа.
	ErrOrderStatusInvalid = errors.New("order status is not supported")
	// Ошибка заказа без позиций.
	ErrOrderLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotDraft возвращается при попытке подтвердить или отменить
	// заказ вне статуса draft.
	ErrOrderNotDraft = errors.New("order is not in draft state")
	// ErrCartEmpty возвращается при checkout с пустой корзиной.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError возвращается корзиной, когда запрошенное количество
// превышает текущий остаток товара. Корзина при этом не изменяется.
type InsufficientStockError struct {
	Product   string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("solo hay %d unidades disponibles de «%s»", e.Available, e.Product)
}

// Shortage описывает нехватку остатка по одному товару при подтверждении.
type Shortage struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (s Shortage) String() string {
	return fmt.Sprintf("«%s»: pedido %d, disponible %d", s.Name, s.Requested, s.Available)
}

// StockShortageError возвращается из подтверждения заказа, когда хотя бы одна
// позиция не обеспечена стоком. Несёт полный список нехваток; транзакция
// подтверждения откатывается целиком.
type StockShortageError struct {
	Shortages []Shortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, s.String())
	}
	return "no hay stock suficiente para: " + strings.Join(parts, "; ")
}

// IsStockShortage проверяет, является ли ошибка нехваткой стока при подтверждении.
func IsStockShortage(err error) bool {
	var shortage *StockShortageError
	return errors.As(err, &shortage)
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой стока при добавлении в корзину.
func IsInsufficientStock(err error) bool {
	var insufficient *InsufficientStockError
	return errors.As(err, &insufficient)
}
