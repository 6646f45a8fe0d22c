package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

type lineItemDTO struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type cartDTO struct {
	ID            string        `json:"id"`
	Products      []lineItemDTO `json:"products"`
	TotalQuantity int           `json:"totalQuantity"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func newCartDTO(c domain.Cart) cartDTO {
	items := make([]lineItemDTO, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, lineItemDTO{Product: it.ProductID, Quantity: it.Quantity})
	}
	return cartDTO{
		ID:            c.ID,
		Products:      items,
		TotalQuantity: c.TotalQuantity(),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

type ticketItemDTO struct {
	Product   string  `json:"product"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Subtotal  float64 `json:"subtotal"`
}

type ticketDTO struct {
	ID               string          `json:"id"`
	Amount           float64         `json:"amount"`
	Purchaser        string          `json:"purchaser"`
	Products         []ticketItemDTO `json:"products"`
	PurchaseDatetime time.Time       `json:"purchaseDatetime"`
}

func newTicketDTO(t domain.Ticket) ticketDTO {
	items := make([]ticketItemDTO, 0, len(t.Items))
	for _, it := range t.Items {
		items = append(items, ticketItemDTO{
			Product:   it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.InexactFloat64(),
			Subtotal:  it.Subtotal().InexactFloat64(),
		})
	}
	return ticketDTO{
		ID:               t.ID,
		Amount:           t.Amount.InexactFloat64(),
		Purchaser:        t.Purchaser,
		Products:         items,
		PurchaseDatetime: t.PurchasedAt,
	}
}

type productPageDTO struct {
	Products    []domain.ProductView `json:"products"`
	Page        int                  `json:"page"`
	Limit       int                  `json:"limit"`
	TotalPages  int                  `json:"totalPages"`
	TotalItems  int                  `json:"totalItems"`
	HasPrevPage bool                 `json:"hasPrevPage"`
	HasNextPage bool                 `json:"hasNextPage"`
	PrevPage    *int                 `json:"prevPage"`
	NextPage    *int                 `json:"nextPage"`
}

func newProductPageDTO(p domain.ProductPage) productPageDTO {
	dto := productPageDTO{
		Products:    domain.NewProductViews(p.Products),
		Page:        p.Page,
		Limit:       p.Limit,
		TotalPages:  p.TotalPages,
		TotalItems:  p.TotalItems,
		HasPrevPage: p.HasPrev(),
		HasNextPage: p.HasNext(),
	}
	if dto.HasPrevPage {
		prev := p.Page - 1
		dto.PrevPage = &prev
	}
	if dto.HasNextPage {
		next := p.Page + 1
		dto.NextPage = &next
	}
	return dto
}

// productRequest is used for both create and partial update; absent fields stay nil.
type productRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Version     int              `json:"version"`
}

type replaceItemsRequest struct {
	Products []lineItemDTO `json:"products"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type clearCartResponse struct {
	Message     string  `json:"message"`
	ClearedCart cartDTO `json:"clearedCart"`
}

type checkoutResponse struct {
	Message             string    `json:"message"`
	Ticket              ticketDTO `json:"ticket"`
	UnprocessedProducts []string  `json:"unprocessedProducts,omitempty"`
}

type errorResponse struct {
	Error               string   `json:"error"`
	UnprocessedProducts []string `json:"unprocessedProducts,omitempty"`
}
