package domain

import "time"

type CatalogEventKind string

const (
	CatalogInit           CatalogEventKind = "init"
	CatalogProductAdded   CatalogEventKind = "product_added"
	CatalogProductUpdated CatalogEventKind = "product_updated"
	CatalogProductDeleted CatalogEventKind = "product_deleted"
	CatalogStockChanged   CatalogEventKind = "stock_changed"
)

// CatalogEvent is a post-mutation catalog snapshot pushed to live observers.
type CatalogEvent struct {
	Kind       CatalogEventKind `json:"kind"`
	Products   []ProductView    `json:"products"`
	Page       int              `json:"page,omitempty"`
	TotalPages int              `json:"totalPages,omitempty"`
	EmittedAt  time.Time        `json:"emittedAt"`
}

// ProductView is the wire shape of a product. Price is rendered as a JSON number.
type ProductView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func NewProductView(p Product) ProductView {
	return ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.InexactFloat64(),
		Stock:       p.Stock,
		Version:     p.Version,
		UpdatedAt:   p.UpdatedAt,
	}
}

func NewProductViews(products []Product) []ProductView {
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, NewProductView(p))
	}
	return views
}

func NewCatalogEvent(kind CatalogEventKind, products []Product, page, totalPages int) CatalogEvent {
	return CatalogEvent{
		Kind:       kind,
		Products:   NewProductViews(products),
		Page:       page,
		TotalPages: totalPages,
		EmittedAt:  time.Now().UTC(),
	}
}
