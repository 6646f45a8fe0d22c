package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
	Version     int // optimistic locking for catalog edits
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductPatch carries the fields of a partial catalog update. Nil fields are left untouched.
type ProductPatch struct {
	Name        *string
	Description *string
	Category    *string
	Price       *decimal.Decimal
	Stock       *int
	Version     int
}

func (p ProductPatch) Apply(product *Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
}

// Validate checks the invariants every stored product must hold.
func (p Product) Validate() error {
	if p.Name == "" {
		return NewValidationError("product name is required")
	}
	if p.Price.IsNegative() {
		return NewValidationError("product price must not be negative")
	}
	if p.Stock < 0 {
		return NewValidationError("product stock must not be negative")
	}
	return nil
}

type ProductPage struct {
	Products   []Product
	Page       int
	Limit      int
	TotalItems int
	TotalPages int
}

func NewProductPage(products []Product, page, limit, total int) ProductPage {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return ProductPage{
		Products:   products,
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: pages,
	}
}

func (p ProductPage) HasPrev() bool { return p.Page > 1 }

func (p ProductPage) HasNext() bool { return p.Page < p.TotalPages }
