package storage

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	cartKeyPrefix     = "cart:"
	idempotencyKeyTTL = 24 * time.Hour
	defaultCartTTL    = 10 * time.Minute
)

type cachedLineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cachedCart struct {
	ID        string           `json:"id"`
	Items     []cachedLineItem `json:"items"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RedisAdapter provides the checkout idempotency guard and the cart cache.
type RedisAdapter struct {
	client  redis.UniversalClient
	cartTTL time.Duration
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client, cartTTL: defaultCartTTL}
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx failed")
	}

	return ok, nil
}

func cartKey(cartID string) string {
	return cartKeyPrefix + cartID
}

func (r *RedisAdapter) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get failed")
	}

	var cc cachedCart
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart failed")
	}

	cart := &domain.Cart{ID: cc.ID, Items: make([]domain.LineItem, 0, len(cc.Items)), CreatedAt: cc.CreatedAt, UpdatedAt: cc.UpdatedAt}
	for _, it := range cc.Items {
		cart.Items = append(cart.Items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return cart, nil
}

// Set caches cart with a jittered TTL so entries written together do not expire together.
func (r *RedisAdapter) Set(ctx context.Context, cart *domain.Cart) error {
	cc := cachedCart{ID: cart.ID, Items: make([]cachedLineItem, 0, len(cart.Items)), CreatedAt: cart.CreatedAt, UpdatedAt: cart.UpdatedAt}
	for _, it := range cart.Items {
		cc.Items = append(cc.Items, cachedLineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	data, err := json.Marshal(cc)
	if err != nil {
		return errors.Wrap(err, "marshal cart failed")
	}

	jitter := time.Duration(rand.Int63n(int64(r.cartTTL/5) + 1))
	if err := r.client.Set(ctx, cartKey(cart.ID), data, r.cartTTL+jitter).Err(); err != nil {
		return errors.Wrapf(err, "redis set cart %s failed", cart.ID)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, cartID string) error {
	if err := r.client.Del(ctx, cartKey(cartID)).Err(); err != nil {
		return errors.Wrap(err, "redis delete failed")
	}
	return nil
}
