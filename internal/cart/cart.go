// Package cart реализует сессионную корзину с проверкой стока.
//
// Корзина — это map "id товара -> количество" под ключом сессии во внешнем
// CartStore. Записи в БД корзина не делает: цены и остатки каждый раз
// перечитываются из каталога. Повреждённые записи (нечисловой ключ,
// некорректное количество, удалённый товар) не считаются ошибкой и лениво
// выбрасываются при обходе.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Line — представление одной строки корзины для вывода и валидации.
type Line struct {
	Product  domain.Product
	Quantity int
	// Subtotal — количество * живая цена товара.
	Subtotal decimal.Decimal
	// AvailableStock — текущий остаток на момент обхода.
	AvailableStock int
	// Valid — хватает ли остатка на запрошенное количество.
	Valid bool
}

// Cart держит состояние корзины одной сессии. Не потокобезопасна:
// предполагается один запрос на сессию.
type Cart struct {
	sessionID string
	store     domain.CartStore
	products  domain.ProductRepository
	data      map[string]any
	dirty     bool
}

// New загружает корзину сессии из хранилища.
func New(ctx context.Context, store domain.CartStore, products domain.ProductRepository, sessionID string) (*Cart, error) {
	data, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load cart session: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	return &Cart{
		sessionID: sessionID,
		store:     store,
		products:  products,
		data:      data,
	}, nil
}

// Add добавляет товар в корзину.
//
// При override=true количество трактуется как явная установка и не может быть
// отрицательным; при override=false — как шаг (возможно отрицательный),
// прибавляемый к текущему. Кандидат <= 0 удаляет строку. Кандидат больше
// текущего остатка завершается *InsufficientStockError без изменения корзины.
func (c *Cart) Add(ctx context.Context, productID int64, qty int, override bool) error {
	if override && qty < 0 {
		return domain.ErrQuantityInvalid
	}

	key := keyFor(productID)
	current, _ := coerceQty(c.data[key])

	candidate := qty
	if !override {
		candidate = current + qty
	}

	product, err := c.products.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("fetch product %d: %w", productID, err)
	}

	if candidate <= 0 {
		c.removeKey(key)
		return nil
	}

	if candidate > product.Stock {
		return &domain.InsufficientStockError{Product: product.Name, Available: product.Stock}
	}

	c.data[key] = candidate
	c.dirty = true
	return nil
}

// Set устанавливает точное количество: Add с override=true.
func (c *Cart) Set(ctx context.Context, productID int64, qty int) error {
	return c.Add(ctx, productID, qty, true)
}

// Increment изменяет количество на step (может быть отрицательным):
// Add с override=false.
func (c *Cart) Increment(ctx context.Context, productID int64, step int) error {
	return c.Add(ctx, productID, step, false)
}

// Remove удаляет строку товара, если она есть. Идемпотентна.
func (c *Cart) Remove(productID int64) {
	c.removeKey(keyFor(productID))
}

// Clear сбрасывает корзину. Идемпотентна.
func (c *Cart) Clear() {
	c.data = make(map[string]any)
	c.dirty = true
}

// Lines возвращает строки корзины, упорядоченные по id товара.
//
// Повреждённые записи и записи удалённых товаров молча выбрасываются,
// корзина при этом помечается грязной.
func (c *Cart) Lines(ctx context.Context) ([]Line, error) {
	keys := make([]string, 0, len(c.data))
	for key := range c.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]Line, 0, len(keys))
	for _, key := range keys {
		productID, qty, ok := parseEntry(key, c.data[key])
		if !ok {
			c.removeKey(key)
			continue
		}

		product, err := c.products.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				c.removeKey(key)
				continue
			}
			return nil, fmt.Errorf("fetch product %d: %w", productID, err)
		}

		lines = append(lines, Line{
			Product:        product,
			Quantity:       qty,
			Subtotal:       product.Price.Mul(decimal.NewFromInt(int64(qty))),
			AvailableStock: product.Stock,
			Valid:          qty <= product.Stock,
		})
	}

	return lines, nil
}

// Units возвращает суммарное количество единиц — сигнал "корзина пуста".
// Повреждённые записи не учитываются.
func (c *Cart) Units() int {
	total := 0
	for key, raw := range c.data {
		if _, qty, ok := parseEntry(key, raw); ok {
			total += qty
		}
	}
	return total
}

// LineCount возвращает число различимых строк (товаров).
func (c *Cart) LineCount() int {
	count := 0
	for key, raw := range c.data {
		if _, _, ok := parseEntry(key, raw); ok {
			count++
		}
	}
	return count
}

// Total пересчитывает итог корзины по живым ценам каталога при каждом вызове.
func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range lines {
		total = total.Add(lines[i].Subtotal)
	}
	return total, nil
}

// ValidateStock проверяет корзину против текущих остатков, не изменяя
// количества. Возвращает общий флаг валидности и список описаний нехваток.
func (c *Cart) ValidateStock(ctx context.Context) (bool, []string, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return false, nil, err
	}

	var problems []string
	for i := range lines {
		if lines[i].Valid {
			continue
		}
		problems = append(problems, fmt.Sprintf(
			"%s: pedido %d, disponible %d",
			lines[i].Product.Name, lines[i].Quantity, lines[i].AvailableStock,
		))
	}

	return len(problems) == 0, problems, nil
}

// CapToStock урезает каждую строку, превышающую остаток, до доступного
// количества; строки без остатка удаляет. Возвращает описания изменений.
func (c *Cart) CapToStock(ctx context.Context) ([]string, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return nil, err
	}

	var adjustments []string
	for i := range lines {
		if lines[i].Valid {
			continue
		}

		key := keyFor(lines[i].Product.ID)
		if lines[i].AvailableStock <= 0 {
			c.removeKey(key)
			adjustments = append(adjustments, fmt.Sprintf(
				"«%s» eliminado del carrito: sin stock", lines[i].Product.Name,
			))
			continue
		}

		c.data[key] = lines[i].AvailableStock
		c.dirty = true
		adjustments = append(adjustments, fmt.Sprintf(
			"«%s» ajustado a %d unidades (stock disponible)",
			lines[i].Product.Name, lines[i].AvailableStock,
		))
	}

	return adjustments, nil
}

// Flush сохраняет корзину в хранилище сессии, если были изменения.
func (c *Cart) Flush(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	if err := c.store.Save(ctx, c.sessionID, c.data); err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}
	c.dirty = false
	return nil
}

// Dirty сообщает, есть ли несохранённые изменения.
func (c *Cart) Dirty() bool {
	return c.dirty
}

// SessionID возвращает идентификатор сессии корзины.
func (c *Cart) SessionID() string {
	return c.sessionID
}

func (c *Cart) removeKey(key string) {
	if _, ok := c.data[key]; !ok {
		return
	}
	delete(c.data, key)
	c.dirty = true
}

// keyFor нормализует id товара в канонический ключ сессионного map.
func keyFor(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

// parseEntry разбирает сырую запись сессии. ok=false означает мусор,
// подлежащий ленивой очистке.
func parseEntry(key string, raw any) (productID int64, qty int, ok bool) {
	productID, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	qty, ok = coerceQty(raw)
	return productID, qty, ok
}

// coerceQty приводит значение количества к положительному int.
// JSON-декодер отдаёт числа как float64, сама корзина пишет int.
func coerceQty(raw any) (int, bool) {
	var qty int
	switch v := raw.(type) {
	case int:
		qty = v
	case int64:
		qty = int(v)
	case float64:
		if v != math.Trunc(v) || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		qty = int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		qty = int(n)
	default:
		return 0, false
	}

	if qty <= 0 {
		return 0, false
	}
	return qty, true
}
