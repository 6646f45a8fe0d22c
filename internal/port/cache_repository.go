package port

import (
	"context"
	"errors"

	"github.com/rl1809/storefront/internal/core/domain"
)

type IdempotencyGuard interface {
	// Acquire records key, returns false if it was already recorded
	Acquire(ctx context.Context, key string) (bool, error)
}

var ErrCacheMiss = errors.New("cache miss")

// CartCache stores serialized carts; Get returns ErrCacheMiss for absent keys.
type CartCache interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

// PublishFunc hands a catalog event to the notifier. It must not block and never reports
// delivery failures.
type PublishFunc func(event domain.CatalogEvent)

func DiscardEvents(domain.CatalogEvent) {}
