package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusDraft — заказ создан вместе с позициями, сток ещё не списан.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusConfirmed — сток успешно зарезервирован, итог зафиксирован.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCancelled — заказ отменён до подтверждения.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions — закрытая таблица допустимых переходов статуса.
// Подтверждение и отмена возможны только из draft; оба состояния терминальные.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {},
	OrderStatusCancelled: {},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo проверяет допустимость перехода s -> target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// PaymentMethod — способ оплаты, выбранный покупателем.
type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMercadoPago PaymentMethod = "mercadopago"
	PaymentMethodCash        PaymentMethod = "cash"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodMercadoPago, PaymentMethodCash:
		return true
	default:
		return false
	}
}

// Buyer — данные покупателя, снятые с формы checkout.
type Buyer struct {
	FirstName string
	LastName  string
	DNI       string
	Address   string
}

// FullName возвращает полное имя покупателя.
func (b Buyer) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	ID      int64
	OrderID int64
	// ProductID — ссылка на товар; товар с существующими позициями удалить нельзя.
	ProductID int64
	Quantity  int
	// Price — snapshot цены товара на момент создания позиции.
	// Дальнейшие изменения цены товара на позицию не влияют.
	Price decimal.Decimal
}

// Subtotal возвращает стоимость позиции: количество * зафиксированная цена.
func (l *OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewOrderLine создаёт позицию заказа, снимая snapshot текущей цены товара.
func NewOrderLine(p Product, qty int) OrderLine {
	return OrderLine{
		ProductID: p.ID,
		Quantity:  qty,
		Price:     p.Price,
	}
}

// Order агрегирует заказ и его позиции. Заказ монопольно владеет позициями.
type Order struct {
	ID            int64
	Buyer         Buyer
	PaymentMethod PaymentMethod
	Status        OrderStatus
	// Total заполняется при подтверждении из snapshot-цен позиций.
	Total     decimal.Decimal
	CreatedAt time.Time
	Lines     []OrderLine
}

// CalcTotal суммирует позиции: qty * зафиксированная цена, не живая цена товара.
func (o *Order) CalcTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Lines {
		total = total.Add(o.Lines[i].Subtotal())
	}
	return total
}

// Validate проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) Validate() []error {
	var errs []error

	if o.Buyer.FullName() == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrOrderLinesRequired)
	}
	for i := range o.Lines {
		if o.Lines[i].Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if o.Lines[i].Price.IsNegative() {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}

	return errs
}
