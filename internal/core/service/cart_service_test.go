package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func newCarts(store *fakeStore) *CartService {
	logger, _ := test.NewNullLogger()
	return NewCartService(store, store, logger)
}

func TestCartService_AddProduct(t *testing.T) {
	store := newFakeStore()
	store.addProduct("P1", "10", 3)
	store.addCart("C1")
	svc := newCarts(store)

	_, err := svc.AddProduct(context.Background(), "C1", "P1")
	require.NoError(t, err)
	cart, err := svc.AddProduct(context.Background(), "C1", "P1")
	require.NoError(t, err)

	assert.Equal(t, []domain.LineItem{{ProductID: "P1", Quantity: 2}}, cart.Items)
}

func TestCartService_AddUnknownProduct(t *testing.T) {
	store := newFakeStore()
	store.addCart("C1")

	_, err := newCarts(store).AddProduct(context.Background(), "C1", "nope")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, store.callCount("AddItem"))
}

func TestCartService_AddToUnknownCart(t *testing.T) {
	store := newFakeStore()
	store.addProduct("P1", "10", 3)

	_, err := newCarts(store).AddProduct(context.Background(), "nope", "P1")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCartService_AddUnknownProductToUnknownCart(t *testing.T) {
	store := newFakeStore()

	_, err := newCarts(store).AddProduct(context.Background(), "nope", "ghost")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, 0, store.callCount("GetProduct"))
	assert.Equal(t, 0, store.callCount("AddItem"))
}

func TestCartService_UpdateQuantity(t *testing.T) {
	store := newFakeStore()
	store.addCart("C1", domain.LineItem{ProductID: "P1", Quantity: 1})
	svc := newCarts(store)

	for _, qty := range []int{0, -2} {
		_, err := svc.UpdateQuantity(context.Background(), "C1", "P1", qty)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err), "quantity %d", qty)
	}
	assert.Equal(t, 0, store.callCount("SetItemQuantity"))

	cart, err := svc.UpdateQuantity(context.Background(), "C1", "P1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	_, err = svc.UpdateQuantity(context.Background(), "C1", "P9", 4)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCartService_RemoveProduct(t *testing.T) {
	store := newFakeStore()
	store.addCart("C1",
		domain.LineItem{ProductID: "P1", Quantity: 1},
		domain.LineItem{ProductID: "P2", Quantity: 2},
	)
	svc := newCarts(store)

	cart, err := svc.RemoveProduct(context.Background(), "C1", "P1")
	require.NoError(t, err)
	assert.Equal(t, []domain.LineItem{{ProductID: "P2", Quantity: 2}}, cart.Items)

	_, err = svc.RemoveProduct(context.Background(), "C1", "P1")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCartService_ReplaceItemsValidates(t *testing.T) {
	store := newFakeStore()
	store.addCart("C1")
	svc := newCarts(store)

	cases := map[string][]domain.LineItem{
		"missing product": {{Quantity: 1}},
		"zero quantity":   {{ProductID: "P1", Quantity: 0}},
		"duplicate":       {{ProductID: "P1", Quantity: 1}, {ProductID: "P1", Quantity: 2}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ReplaceItems(context.Background(), "C1", items)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Equal(t, 0, store.callCount("ReplaceItems"))

	cart, err := svc.ReplaceItems(context.Background(), "C1", []domain.LineItem{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestCartService_ClearReturnsPriorContents(t *testing.T) {
	store := newFakeStore()
	store.addCart("C1", domain.LineItem{ProductID: "P1", Quantity: 2})

	prior, err := newCarts(store).ClearCart(context.Background(), "C1")
	require.NoError(t, err)

	assert.Equal(t, []domain.LineItem{{ProductID: "P1", Quantity: 2}}, prior.Items)
	assert.Empty(t, store.itemsOf("C1"))
}

func TestCartService_GetCart(t *testing.T) {
	store := newFakeStore()
	svc := newCarts(store)

	_, err := svc.GetCart(context.Background(), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.GetCart(context.Background(), "nope")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
