package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type ProductInput struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
}

type CatalogService struct {
	repo    port.CatalogRepository
	publish port.PublishFunc
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func() string
}

func NewCatalogService(repo port.CatalogRepository, publish port.PublishFunc, log logrus.FieldLogger) *CatalogService {
	if publish == nil {
		publish = port.DiscardEvents
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CatalogService{
		repo:    repo,
		publish: publish,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// normalizePage clamps paging input: page starts at 1, limit falls back to the default and is capped.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func (s *CatalogService) ListProducts(ctx context.Context, page, limit int) (domain.ProductPage, error) {
	page, limit = normalizePage(page, limit)
	products, total, err := s.repo.ListProducts(ctx, (page-1)*limit, limit)
	if err != nil {
		return domain.ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	return domain.NewProductPage(products, page, limit, total), nil
}

func (s *CatalogService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	if productID == "" {
		return nil, domain.NewValidationError("missing product id")
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, domain.NewNotFoundError("product not found")
	}
	return product, nil
}

// CreateProduct stores a new product and pushes the last catalog page, where it lands, to observers.
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	now := s.now()
	product := domain.Product{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Stock:       in.Stock,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.publishPage(ctx, domain.CatalogProductAdded, -1)
	return &product, nil
}

// UpdateProduct applies patch. A non-zero patch.Version must match the stored version.
func (s *CatalogService) UpdateProduct(ctx context.Context, productID string, patch domain.ProductPatch) (*domain.Product, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if patch.Version != 0 && patch.Version != product.Version {
		return nil, domain.NewConflictError("product %s was modified, expected version %d got %d", productID, patch.Version, product.Version)
	}

	patch.Apply(product)
	if err := product.Validate(); err != nil {
		return nil, err
	}
	product.UpdatedAt = s.now()

	updated, err := s.repo.UpdateProduct(ctx, *product)
	if errors.Is(err, port.ErrVersionConflict) {
		return nil, domain.NewConflictError("product %s was modified concurrently", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if updated == nil {
		return nil, domain.NewNotFoundError("product not found")
	}

	s.publish(domain.NewCatalogEvent(domain.CatalogProductUpdated, []domain.Product{*updated}, 0, 0))
	return updated, nil
}

// DeleteProduct removes the product and pushes the given page to observers.
func (s *CatalogService) DeleteProduct(ctx context.Context, productID string, page int) error {
	if productID == "" {
		return domain.NewValidationError("missing product id")
	}
	ok, err := s.repo.DeleteProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if !ok {
		return domain.NewNotFoundError("product not found")
	}

	if page < 1 {
		page = 1
	}
	s.publishPage(ctx, domain.CatalogProductDeleted, page)
	return nil
}

var seedCategories = []string{"electronics", "books", "home", "toys", "sports"}

// SeedProducts stores n generated products. Product i always gets the same name, category, price
// and stock, so a seeded catalog looks the same on every machine. One event announces the last page.
func (s *CatalogService) SeedProducts(ctx context.Context, n int) ([]domain.Product, error) {
	if n < 1 {
		return nil, domain.NewValidationError("seed count must be positive")
	}
	now := s.now()
	seeded := make([]domain.Product, 0, n)
	for i := 1; i <= n; i++ {
		product := domain.Product{
			ID:          s.newID(),
			Name:        fmt.Sprintf("Mock product %03d", i),
			Description: fmt.Sprintf("Generated catalog entry number %d", i),
			Category:    seedCategories[(i-1)%len(seedCategories)],
			Price:       decimal.NewFromInt(int64(5 + i%20*5)).Div(decimal.NewFromInt(2)),
			Stock:       10 + i%40,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := product.Validate(); err != nil {
			return seeded, err
		}
		if err := s.repo.CreateProduct(ctx, product); err != nil {
			return seeded, fmt.Errorf("seed product %d: %w", i, err)
		}
		seeded = append(seeded, product)
	}

	s.log.WithField("count", n).Info("catalog seeded")
	s.publishPage(ctx, domain.CatalogProductAdded, -1)
	return seeded, nil
}

// Snapshot returns the first catalog page as an init event for a new observer.
func (s *CatalogService) Snapshot(ctx context.Context) (domain.CatalogEvent, error) {
	page, err := s.ListProducts(ctx, 1, DefaultPageLimit)
	if err != nil {
		return domain.CatalogEvent{}, err
	}
	return domain.NewCatalogEvent(domain.CatalogInit, page.Products, page.Page, page.TotalPages), nil
}

// publishPage sends a page snapshot; page < 0 selects the last page. Failures only get logged.
func (s *CatalogService) publishPage(ctx context.Context, kind domain.CatalogEventKind, page int) {
	if page < 0 {
		_, total, err := s.repo.ListProducts(ctx, 0, 0)
		if err != nil {
			s.log.WithError(err).WithField("kind", kind).Warn("catalog snapshot failed")
			return
		}
		page = (total + DefaultPageLimit - 1) / DefaultPageLimit
		if page < 1 {
			page = 1
		}
	}

	snapshot, err := s.ListProducts(ctx, page, DefaultPageLimit)
	if err != nil {
		s.log.WithError(err).WithField("kind", kind).Warn("catalog snapshot failed")
		return
	}
	s.publish(domain.NewCatalogEvent(kind, snapshot.Products, snapshot.Page, snapshot.TotalPages))
}
