package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Lookups return (nil, nil) when the record does not exist; errors are reserved for faults.

type InventoryRepository interface {
	// GetProduct retrieves a product by ID
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// SetStock overwrites the stock of a product and returns the stored state
	SetStock(ctx context.Context, productID string, stock int) (*domain.Product, error)
}

type CatalogRepository interface {
	InventoryRepository

	// ListProducts returns a page in creation order plus the total count; limit 0 returns only the count
	ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error)
	CreateProduct(ctx context.Context, product domain.Product) error

	// UpdateProduct stores product if its version still matches; returns ErrVersionConflict otherwise
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	DeleteProduct(ctx context.Context, productID string) (bool, error)
}

type CartRepository interface {
	CreateCart(ctx context.Context) (*domain.Cart, error)
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	ListCarts(ctx context.Context) ([]domain.Cart, error)

	// AddItem increments the line for productID, or appends it with quantity 1
	AddItem(ctx context.Context, cartID, productID string) (*domain.Cart, error)

	// SetItemQuantity returns nil when the cart or the line does not exist
	SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error)

	// RemoveItem returns nil when the cart or the line does not exist
	RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error)

	// ReplaceItems overwrites the whole item list, touching UpdatedAt even when nothing changed
	ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error)
}

type TicketRepository interface {
	// CreateTicket appends a purchase record; tickets are never updated
	CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
	ListTicketsByPurchaser(ctx context.Context, purchaser string) ([]domain.Ticket, error)
}
