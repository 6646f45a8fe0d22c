package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type CartService struct {
	carts     port.CartRepository
	inventory port.InventoryRepository
	log       logrus.FieldLogger
}

func NewCartService(carts port.CartRepository, inventory port.InventoryRepository, log logrus.FieldLogger) *CartService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CartService{carts: carts, inventory: inventory, log: log}
}

func (s *CartService) CreateCart(ctx context.Context) (*domain.Cart, error) {
	cart, err := s.carts.CreateCart(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	s.log.WithField("cart_id", cart.ID).Debug("cart created")
	return cart, nil
}

func (s *CartService) ListCarts(ctx context.Context) ([]domain.Cart, error) {
	carts, err := s.carts.ListCarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list carts: %w", err)
	}
	return carts, nil
}

func (s *CartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if cartID == "" {
		return nil, domain.NewValidationError("missing cart id")
	}
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart not found")
	}
	return cart, nil
}

// AddProduct puts one unit of productID in the cart. The cart is checked first, then the catalog.
func (s *CartService) AddProduct(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	if cartID == "" || productID == "" {
		return nil, domain.NewValidationError("missing cart or product id")
	}

	existing, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if existing == nil {
		return nil, domain.NewNotFoundError("cart not found")
	}

	product, err := s.inventory.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, domain.NewValidationError("product does not exist")
	}

	cart, err := s.carts.AddItem(ctx, cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart not found")
	}
	return cart, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	if cartID == "" || productID == "" {
		return nil, domain.NewValidationError("missing cart or product id")
	}
	if quantity < 1 {
		return nil, domain.NewValidationError("quantity must be a positive integer")
	}

	cart, err := s.carts.SetItemQuantity(ctx, cartID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("update quantity: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart or product not found")
	}
	return cart, nil
}

func (s *CartService) RemoveProduct(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	if cartID == "" || productID == "" {
		return nil, domain.NewValidationError("missing cart or product id")
	}

	cart, err := s.carts.RemoveItem(ctx, cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("remove item: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart or product not found")
	}
	return cart, nil
}

func (s *CartService) ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	if cartID == "" {
		return nil, domain.NewValidationError("missing cart id")
	}
	if err := domain.ValidateLineItems(items); err != nil {
		return nil, err
	}

	cart, err := s.carts.ReplaceItems(ctx, cartID, domain.CloneItems(items))
	if err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart not found")
	}
	return cart, nil
}

// ClearCart empties the cart and returns what it held before.
func (s *CartService) ClearCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	prior, err := s.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}

	cart, err := s.carts.ReplaceItems(ctx, cartID, []domain.LineItem{})
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart not found")
	}
	return prior, nil
}
