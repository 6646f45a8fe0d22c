package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestTicketService_VisibleToPurchaserOnly(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateTicket(context.Background(), domain.Ticket{ID: "T1", Purchaser: "a@example.com", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	svc := NewTicketService(store)

	ticket, err := svc.GetTicket(context.Background(), "T1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "T1", ticket.ID)

	_, err = svc.GetTicket(context.Background(), "T1", "b@example.com")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = svc.GetTicket(context.Background(), "T1", "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestTicketService_ListByPurchaser(t *testing.T) {
	store := newFakeStore()
	for _, tk := range []domain.Ticket{
		{ID: "T1", Purchaser: "a@example.com"},
		{ID: "T2", Purchaser: "b@example.com"},
		{ID: "T3", Purchaser: "a@example.com"},
	} {
		_, err := store.CreateTicket(context.Background(), tk)
		require.NoError(t, err)
	}

	tickets, err := NewTicketService(store).ListTickets(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "T1", tickets[0].ID)
	assert.Equal(t, "T3", tickets[1].ID)
}
