package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type journalKey struct{}

// memJournal collects undo steps of one unit of work, replayed in reverse on rollback.
type memJournal struct {
	undo []func()
}

// MemoryStore keeps the catalog, carts and tickets in process memory. Writers are serialized:
// a unit of work holds txMu for its whole duration, a standalone write holds it for one call.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	products     map[string]domain.Product
	productOrder []string
	carts        map[string]domain.Cart
	cartOrder    []string
	tickets      map[string]domain.Ticket
	ticketOrder  []string
	idempotency  map[string]time.Time

	now   func() time.Time
	newID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[string]domain.Product),
		carts:       make(map[string]domain.Cart),
		tickets:     make(map[string]domain.Ticket),
		idempotency: make(map[string]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(journalKey{}).(*memJournal); nested {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &memJournal{}
	txCtx := context.WithValue(port.MarkTransaction(ctx), journalKey{}, j)
	if err := fn(txCtx); err != nil {
		s.mu.Lock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		s.mu.Unlock()
		return err
	}

	port.Committed(txCtx)
	return nil
}

// mutate runs fn under the data lock; record registers an undo step when ctx carries a journal.
func (s *MemoryStore) mutate(ctx context.Context, fn func(record func(undo func()))) {
	j, inTx := ctx.Value(journalKey{}).(*memJournal)
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fn(func(undo func()) {
		if inTx {
			j.undo = append(j.undo, undo)
		}
	})
}

func (s *MemoryStore) snapshotProduct(id string) func() {
	prev, existed := s.products[id]
	order := append([]string(nil), s.productOrder...)
	return func() {
		if existed {
			s.products[id] = prev
		} else {
			delete(s.products, id)
		}
		s.productOrder = order
	}
}

func (s *MemoryStore) snapshotCart(id string) func() {
	prev, existed := s.carts[id]
	prev.Items = domain.CloneItems(prev.Items)
	order := append([]string(nil), s.cartOrder...)
	return func() {
		if existed {
			s.carts[id] = prev
		} else {
			delete(s.carts, id)
		}
		s.cartOrder = order
	}
}

func copyCart(c domain.Cart) *domain.Cart {
	c.Items = domain.CloneItems(c.Items)
	return &c
}

func copyTicket(t domain.Ticket) *domain.Ticket {
	t.Items = append([]domain.TicketItem(nil), t.Items...)
	return &t
}

// Catalog

func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) SetStock(ctx context.Context, productID string, stock int) (*domain.Product, error) {
	var out *domain.Product
	s.mutate(ctx, func(record func(func())) {
		p, ok := s.products[productID]
		if !ok {
			return
		}
		record(s.snapshotProduct(productID))
		p.Stock = stock
		p.Version++
		p.UpdatedAt = s.now()
		s.products[productID] = p
		out = &p
	})
	return out, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, offset, limit int) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.productOrder)
	out := []domain.Product{}
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, s.products[s.productOrder[i]])
	}
	return out, total, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product domain.Product) error {
	s.mutate(ctx, func(record func(func())) {
		record(s.snapshotProduct(product.ID))
		if _, exists := s.products[product.ID]; !exists {
			s.productOrder = append(s.productOrder, product.ID)
		}
		s.products[product.ID] = product
	})
	return nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var (
		out      *domain.Product
		conflict bool
	)
	s.mutate(ctx, func(record func(func())) {
		current, ok := s.products[product.ID]
		if !ok {
			return
		}
		if current.Version != product.Version {
			conflict = true
			return
		}
		record(s.snapshotProduct(product.ID))
		product.CreatedAt = current.CreatedAt
		product.Version++
		s.products[product.ID] = product
		out = &product
	})
	if conflict {
		return nil, port.ErrVersionConflict
	}
	return out, nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	var deleted bool
	s.mutate(ctx, func(record func(func())) {
		if _, ok := s.products[productID]; !ok {
			return
		}
		record(s.snapshotProduct(productID))
		delete(s.products, productID)
		s.productOrder = removeID(s.productOrder, productID)
		deleted = true
	})
	return deleted, nil
}

// Carts

func (s *MemoryStore) CreateCart(ctx context.Context) (*domain.Cart, error) {
	now := s.now()
	cart := domain.Cart{ID: s.newID(), Items: []domain.LineItem{}, CreatedAt: now, UpdatedAt: now}
	s.mutate(ctx, func(record func(func())) {
		record(s.snapshotCart(cart.ID))
		s.carts[cart.ID] = cart
		s.cartOrder = append(s.cartOrder, cart.ID)
	})
	return copyCart(cart), nil
}

func (s *MemoryStore) GetCart(_ context.Context, cartID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[cartID]
	if !ok {
		return nil, nil
	}
	return copyCart(c), nil
}

func (s *MemoryStore) ListCarts(_ context.Context) ([]domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Cart, 0, len(s.cartOrder))
	for _, id := range s.cartOrder {
		out = append(out, *copyCart(s.carts[id]))
	}
	return out, nil
}

// updateCart applies change to a copy of the cart and stores it when change reports true.
func (s *MemoryStore) updateCart(ctx context.Context, cartID string, change func(c *domain.Cart) bool) *domain.Cart {
	var out *domain.Cart
	s.mutate(ctx, func(record func(func())) {
		c, ok := s.carts[cartID]
		if !ok {
			return
		}
		c.Items = domain.CloneItems(c.Items)
		if !change(&c) {
			return
		}
		record(s.snapshotCart(cartID))
		c.UpdatedAt = s.now()
		s.carts[cartID] = c
		out = copyCart(c)
	})
	return out
}

func (s *MemoryStore) AddItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return s.updateCart(ctx, cartID, func(c *domain.Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity++
				return true
			}
		}
		c.Items = append(c.Items, domain.LineItem{ProductID: productID, Quantity: 1})
		return true
	}), nil
}

func (s *MemoryStore) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	return s.updateCart(ctx, cartID, func(c *domain.Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity = quantity
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryStore) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return s.updateCart(ctx, cartID, func(c *domain.Cart) bool {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryStore) ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	return s.updateCart(ctx, cartID, func(c *domain.Cart) bool {
		c.Items = domain.CloneItems(items)
		return true
	}), nil
}

// Tickets

func (s *MemoryStore) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.Ticket, error) {
	stored := *copyTicket(ticket)
	s.mutate(ctx, func(record func(func())) {
		order := append([]string(nil), s.ticketOrder...)
		record(func() {
			delete(s.tickets, stored.ID)
			s.ticketOrder = order
		})
		s.tickets[stored.ID] = stored
		s.ticketOrder = append(s.ticketOrder, stored.ID)
	})
	return copyTicket(stored), nil
}

func (s *MemoryStore) GetTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, nil
	}
	return copyTicket(t), nil
}

func (s *MemoryStore) ListTicketsByPurchaser(_ context.Context, purchaser string) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Ticket{}
	for _, id := range s.ticketOrder {
		if t := s.tickets[id]; t.Purchaser == purchaser {
			out = append(out, *copyTicket(t))
		}
	}
	return out, nil
}

// Acquire implements port.IdempotencyGuard with the same 24h retention as the Redis guard.
func (s *MemoryStore) Acquire(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.idempotency[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.idempotency[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
