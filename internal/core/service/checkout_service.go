package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var ErrDuplicateRequest = domain.NewConflictError("duplicate request")

type CheckoutRequest struct {
	CartID    string
	Purchaser string
	// IdempotencyKey is optional; a replayed key is rejected with ErrDuplicateRequest.
	IdempotencyKey string
}

type CheckoutService struct {
	carts     port.CartRepository
	inventory port.InventoryRepository
	tickets   port.TicketRepository
	tx        port.Transactor
	guard     port.IdempotencyGuard
	publish   port.PublishFunc
	log       logrus.FieldLogger
	now       func() time.Time
	newID     func() string
}

type CheckoutOption func(*CheckoutService)

func WithTransactor(tx port.Transactor) CheckoutOption {
	return func(s *CheckoutService) { s.tx = tx }
}

func WithIdempotencyGuard(guard port.IdempotencyGuard) CheckoutOption {
	return func(s *CheckoutService) { s.guard = guard }
}

func WithCheckoutPublisher(publish port.PublishFunc) CheckoutOption {
	return func(s *CheckoutService) { s.publish = publish }
}

func WithCheckoutLogger(log logrus.FieldLogger) CheckoutOption {
	return func(s *CheckoutService) { s.log = log }
}

func WithClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) { s.now = now }
}

func NewCheckoutService(carts port.CartRepository, inventory port.InventoryRepository, tickets port.TicketRepository, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		carts:     carts,
		inventory: inventory,
		tickets:   tickets,
		tx:        port.NopTransactor{},
		publish:   port.DiscardEvents,
		log:       logrus.StandardLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout converts the cart's line items into a ticket, settling every item whose product has
// enough stock and leaving the rest in the cart. When nothing settles the cart is still rewritten
// and a NoStockAvailable error lists the unprocessed products.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Settlement, error) {
	if req.CartID == "" {
		return nil, domain.NewValidationError("missing cart id")
	}
	if req.Purchaser == "" {
		return nil, domain.NewValidationError("missing purchaser identity")
	}

	if req.IdempotencyKey != "" && s.guard != nil {
		ok, err := s.guard.Acquire(ctx, fmt.Sprintf("checkout:%s:%s", req.CartID, req.IdempotencyKey))
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
	}

	var settlement *domain.Settlement
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		settlement, err = s.settle(ctx, req.CartID, req.Purchaser)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(settlement.StockChanged) > 0 {
		s.publish(domain.NewCatalogEvent(domain.CatalogStockChanged, settlement.StockChanged, 0, 0))
	}

	logger := s.log.WithFields(logrus.Fields{
		"cart_id":   req.CartID,
		"settled":   len(settlement.Settled),
		"unsettled": len(settlement.Unsettled),
	})
	if settlement.Ticket == nil {
		logger.Info("checkout settled nothing")
		return nil, domain.NewNoStockAvailableError(settlement.UnprocessedProductIDs())
	}

	logger.WithFields(logrus.Fields{
		"ticket_id": settlement.Ticket.ID,
		"amount":    settlement.Ticket.Amount.String(),
	}).Info("checkout settled")
	return settlement, nil
}

// settle is a single pass over the cart. Stock is written per item so later lines observe the
// consumption of earlier ones.
func (s *CheckoutService) settle(ctx context.Context, cartID, purchaser string) (*domain.Settlement, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("cart %s not found", cartID)
	}
	if cart.IsEmpty() {
		return nil, domain.NewEmptyCartError(cartID)
	}

	settlement := &domain.Settlement{}
	total := decimal.Zero
	var ticketItems []domain.TicketItem

	for _, item := range cart.Items {
		product, err := s.inventory.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil || product.Stock < item.Quantity {
			settlement.Unsettled = append(settlement.Unsettled, item)
			continue
		}

		updated, err := s.inventory.SetStock(ctx, product.ID, product.Stock-item.Quantity)
		if err != nil {
			return nil, err
		}
		if updated == nil {
			p := *product
			p.Stock -= item.Quantity
			updated = &p
		}

		settlement.Settled = append(settlement.Settled, item)
		settlement.StockChanged = append(settlement.StockChanged, *updated)
		ticketItems = append(ticketItems, domain.TicketItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if len(settlement.Settled) > 0 {
		ticket, err := s.tickets.CreateTicket(ctx, domain.Ticket{
			ID:          s.newID(),
			Amount:      total,
			Purchaser:   purchaser,
			Items:       ticketItems,
			PurchasedAt: s.now(),
		})
		if err != nil {
			return nil, err
		}
		settlement.Ticket = ticket
	}

	// Rewritten even when no item settled.
	updatedCart, err := s.carts.ReplaceItems(ctx, cartID, domain.CloneItems(settlement.Unsettled))
	if err != nil {
		return nil, err
	}
	if updatedCart == nil {
		return nil, domain.NewNotFoundError("cart %s not found", cartID)
	}

	return settlement, nil
}
