package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func getMySQLDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := OpenMySQL(ctx, dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := MigrateUp(db.DB); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newMySQLProduct(t *testing.T, m *MySQLAdapter, stock int, price string) domain.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := domain.Product{
		ID:          uuid.NewString(),
		Name:        "test product",
		Description: "created by mysql adapter tests",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, m.CreateProduct(context.Background(), p))
	t.Cleanup(func() { _, _ = m.DeleteProduct(context.Background(), p.ID) })
	return p
}

func TestMySQL_ProductRoundTrip(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	m := NewMySQLAdapter(db)
	p := newMySQLProduct(t, m, 5, "19.99")

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Price.Equal(p.Price))
	assert.Equal(t, 5, got.Stock)

	updated, err := m.SetStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Stock)
	assert.Equal(t, 2, updated.Version)

	// stale version
	_, err = m.UpdateProduct(ctx, p)
	assert.ErrorIs(t, err, port.ErrVersionConflict)

	missing, err := m.GetProduct(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMySQL_CartItems(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	m := NewMySQLAdapter(db)

	cart, err := m.CreateCart(ctx)
	require.NoError(t, err)
	defer db.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, cart.ID)

	_, err = m.AddItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	_, err = m.AddItem(ctx, cart.ID, "P2")
	require.NoError(t, err)
	got, err := m.AddItem(ctx, cart.ID, "P1")
	require.NoError(t, err)
	assert.Equal(t, []domain.LineItem{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}, got.Items)

	got, err = m.SetItemQuantity(ctx, cart.ID, "P2", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items[1].Quantity)

	got, err = m.SetItemQuantity(ctx, cart.ID, "P9", 2)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.ReplaceItems(ctx, cart.ID, []domain.LineItem{{ProductID: "P3", Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, []domain.LineItem{{ProductID: "P3", Quantity: 4}}, got.Items)

	missing, err := m.ReplaceItems(ctx, "no-such-cart", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMySQL_TransactionRollback(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	m := NewMySQLAdapter(db)
	p := newMySQLProduct(t, m, 5, "10.00")

	errAbort := errors.New("abort")
	err := m.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := m.GetProduct(ctx, p.ID); err != nil {
			return err
		}
		if _, err := m.SetStock(ctx, p.ID, 0); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestMySQL_Tickets(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	m := NewMySQLAdapter(db)
	purchaser := uuid.NewString() + "@example.com"

	ticket := domain.Ticket{
		ID:        uuid.NewString(),
		Amount:    decimal.RequireFromString("30.00"),
		Purchaser: purchaser,
		Items: []domain.TicketItem{
			{ProductID: "P1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: "P2", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
		},
		PurchasedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := m.CreateTicket(ctx, ticket)
	require.NoError(t, err)
	defer db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, ticket.ID)

	got, err := m.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "P1", got.Items[0].ProductID)
	assert.True(t, got.Amount.Equal(ticket.Amount))

	list, err := m.ListTicketsByPurchaser(ctx, purchaser)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
