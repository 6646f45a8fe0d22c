package storage

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// CachedCartRepository is a read-through cache in front of a CartRepository. Writes go to the
// store and then drop the cached entry. Inside a unit of work the cache is bypassed entirely so
// checkout always reads locked, current rows.
type CachedCartRepository struct {
	port.CartRepository
	cache port.CartCache
	sfg   singleflight.Group
	log   logrus.FieldLogger
}

func NewCachedCartRepository(repo port.CartRepository, cache port.CartCache, log logrus.FieldLogger) *CachedCartRepository {
	return &CachedCartRepository{CartRepository: repo, cache: cache, log: log}
}

func (c *CachedCartRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if port.InTransaction(ctx) {
		return c.CartRepository.GetCart(ctx, cartID)
	}

	v, err, _ := c.sfg.Do(cartID, func() (interface{}, error) {
		cart, err := c.cache.Get(ctx, cartID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, port.ErrCacheMiss) {
			c.log.WithError(err).WithField("cart_id", cartID).Warn("cart cache read failed")
		}

		cart, err = c.CartRepository.GetCart(ctx, cartID)
		if err != nil || cart == nil {
			return cart, err
		}
		if err := c.cache.Set(ctx, cart); err != nil {
			c.log.WithError(err).WithField("cart_id", cartID).Warn("cart cache write failed")
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	cart, _ := v.(*domain.Cart)
	if cart == nil {
		return nil, nil
	}
	// singleflight shares one value between callers
	cp := *cart
	cp.Items = domain.CloneItems(cart.Items)
	return &cp, nil
}

func (c *CachedCartRepository) drop(ctx context.Context, cartID string) {
	if err := c.cache.Delete(ctx, cartID); err != nil {
		c.log.WithError(err).WithField("cart_id", cartID).Warn("cart cache invalidation failed")
	}
}

// invalidate drops the entry now and, inside a unit of work, again once it commits.
func (c *CachedCartRepository) invalidate(ctx context.Context, cartID string) {
	c.drop(ctx, cartID)
	if port.InTransaction(ctx) {
		port.AfterCommit(ctx, func() { c.drop(context.WithoutCancel(ctx), cartID) })
	}
}

func (c *CachedCartRepository) AddItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	defer c.invalidate(ctx, cartID)
	return c.CartRepository.AddItem(ctx, cartID, productID)
}

func (c *CachedCartRepository) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	defer c.invalidate(ctx, cartID)
	return c.CartRepository.SetItemQuantity(ctx, cartID, productID, quantity)
}

func (c *CachedCartRepository) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	defer c.invalidate(ctx, cartID)
	return c.CartRepository.RemoveItem(ctx, cartID, productID)
}

func (c *CachedCartRepository) ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	defer c.invalidate(ctx, cartID)
	return c.CartRepository.ReplaceItems(ctx, cartID, items)
}
