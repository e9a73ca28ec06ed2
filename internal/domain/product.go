package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар каталога.
type Product struct {
	ID int64
	// Name — отображаемое имя товара.
	Name string
	// Slug — уникальный человекочитаемый идентификатор для URL.
	Slug        string
	Description string
	// Price — цена за единицу, фиксированная точность 2 знака.
	Price decimal.Decimal
	// Stock — доступный остаток, всегда >= 0.
	Stock     int
	CreatedAt time.Time
}

// HasStock проверяет, хватает ли остатка на запрошенное количество.
func (p *Product) HasStock(qty int) bool {
	return p.Stock >= qty
}

// Validate проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Slug == "" {
		errs = append(errs, ErrProductSlugRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockNegative)
	}

	return errs
}
