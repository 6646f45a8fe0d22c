package service

import (
	"context"
	"fmt"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type TicketService struct {
	tickets port.TicketRepository
}

func NewTicketService(tickets port.TicketRepository) *TicketService {
	return &TicketService{tickets: tickets}
}

// GetTicket returns the ticket when purchaser owns it; other purchasers see NotFound.
func (s *TicketService) GetTicket(ctx context.Context, ticketID, purchaser string) (*domain.Ticket, error) {
	if ticketID == "" {
		return nil, domain.NewValidationError("missing ticket id")
	}
	if purchaser == "" {
		return nil, domain.NewValidationError("missing purchaser identity")
	}
	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil || ticket.Purchaser != purchaser {
		return nil, domain.NewNotFoundError("ticket not found")
	}
	return ticket, nil
}

func (s *TicketService) ListTickets(ctx context.Context, purchaser string) ([]domain.Ticket, error) {
	if purchaser == "" {
		return nil, domain.NewValidationError("missing purchaser identity")
	}
	tickets, err := s.tickets.ListTicketsByPurchaser(ctx, purchaser)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}
