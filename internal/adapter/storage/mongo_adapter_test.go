package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/rl1809/storefront/internal/core/domain"
)

func setupMongo(t *testing.T) *MongoAdapter {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		t.Skipf("MongoDB container not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "storefront_test")
	require.NoError(t, err)

	adapter := NewMongoAdapter(db, true)
	require.NoError(t, adapter.CreateIndexes(ctx))
	return adapter
}

func TestMongo_Catalog(t *testing.T) {
	m := setupMongo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	p := domain.Product{ID: "P1", Name: "Mug", Price: decimal.RequireFromString("12.50"), Stock: 4, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, m.CreateProduct(ctx, p))

	got, err := m.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(p.Price))

	updated, err := m.SetStock(ctx, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Stock)
	assert.Equal(t, 2, updated.Version)

	products, total, err := m.ListProducts(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, products, 1)

	ok, err := m.DeleteProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMongo_CartItems(t *testing.T) {
	m := setupMongo(t)
	ctx := context.Background()

	cart, err := m.CreateCart(ctx)
	require.NoError(t, err)

	_, err = m.AddItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	got, err := m.AddItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	assert.Equal(t, []domain.LineItem{{ProductID: "P1", Quantity: 2}}, got.Items)

	got, err = m.SetItemQuantity(ctx, cart.ID, "P1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Items[0].Quantity)

	got, err = m.RemoveItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	assert.Empty(t, got.Items)

	missing, err := m.RemoveItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = m.AddItem(ctx, "no-such-cart", "P1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongo_TransactionRollback(t *testing.T) {
	m := setupMongo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, m.CreateProduct(ctx, domain.Product{ID: "P1", Name: "Mug", Price: decimal.NewFromInt(1), Stock: 4, Version: 1, CreatedAt: now, UpdatedAt: now}))

	errAbort := errors.New("abort")
	err := m.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := m.SetStock(ctx, "P1", 0); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := m.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
}
