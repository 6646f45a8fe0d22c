package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket is the immutable record of a settled purchase.
type Ticket struct {
	ID          string
	Amount      decimal.Decimal
	Purchaser   string
	Items       []TicketItem
	PurchasedAt time.Time
}

// TicketItem is a snapshot of a settled line, priced at settlement time.
type TicketItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i TicketItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Settlement is the result of one checkout pass. Ticket is nil when nothing settled.
type Settlement struct {
	Ticket       *Ticket
	Settled      []LineItem
	Unsettled    []LineItem
	// StockChanged holds the post-decrement state of every product the pass settled against.
	StockChanged []Product
}

func (s *Settlement) UnprocessedProductIDs() []string {
	ids := make([]string, 0, len(s.Unsettled))
	for _, item := range s.Unsettled {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func (s *Settlement) FullySettled() bool {
	return len(s.Unsettled) == 0
}
