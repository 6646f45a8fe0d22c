package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// fakeStore is an in-memory stand-in for every repository the services use.
type fakeStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	order    []string
	carts    map[string]*domain.Cart
	tickets  []domain.Ticket

	// failures keyed by method name
	failures map[string]error
	calls    map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]*domain.Product),
		carts:    make(map[string]*domain.Cart),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeStore) addProduct(id string, price string, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = &domain.Product{
		ID:      id,
		Name:    "product " + id,
		Price:   decimal.RequireFromString(price),
		Stock:   stock,
		Version: 1,
	}
	f.order = append(f.order, id)
}

func (f *fakeStore) addCart(id string, items ...domain.LineItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[id] = &domain.Cart{ID: id, Items: domain.CloneItems(items)}
}

func (f *fakeStore) stockOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stock
}

func (f *fakeStore) itemsOf(cartID string) []domain.LineItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CloneItems(f.carts[cartID].Items)
}

func (f *fakeStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) ticketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets)
}

func (f *fakeStore) enter(method string) error {
	f.calls[method]++
	return f.failures[method]
}

func (f *fakeStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SetStock(_ context.Context, productID string, stock int) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetStock"); err != nil {
		return nil, err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, nil
	}
	p.Stock = stock
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProducts(_ context.Context, offset, limit int) ([]domain.Product, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListProducts"); err != nil {
		return nil, 0, err
	}
	total := len(f.order)
	var out []domain.Product
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, *f.products[f.order[i]])
	}
	return out, total, nil
}

func (f *fakeStore) CreateProduct(_ context.Context, product domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateProduct"); err != nil {
		return err
	}
	f.products[product.ID] = &product
	f.order = append(f.order, product.ID)
	return nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateProduct"); err != nil {
		return nil, err
	}
	current, ok := f.products[product.ID]
	if !ok {
		return nil, nil
	}
	if current.Version != product.Version {
		return nil, port.ErrVersionConflict
	}
	product.Version++
	f.products[product.ID] = &product
	cp := product
	return &cp, nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, productID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteProduct"); err != nil {
		return false, err
	}
	if _, ok := f.products[productID]; !ok {
		return false, nil
	}
	delete(f.products, productID)
	for i, id := range f.order {
		if id == productID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (f *fakeStore) CreateCart(_ context.Context) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCart"); err != nil {
		return nil, err
	}
	cart := &domain.Cart{ID: "cart-" + string(rune('a'+len(f.carts))), Items: []domain.LineItem{}}
	f.carts[cart.ID] = cart
	cp := *cart
	return &cp, nil
}

func (f *fakeStore) GetCart(_ context.Context, cartID string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetCart"); err != nil {
		return nil, err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Items = domain.CloneItems(c.Items)
	return &cp, nil
}

func (f *fakeStore) ListCarts(_ context.Context) ([]domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListCarts"); err != nil {
		return nil, err
	}
	out := make([]domain.Cart, 0, len(f.carts))
	for _, c := range f.carts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) AddItem(_ context.Context, cartID, productID string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddItem"); err != nil {
		return nil, err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return nil, nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity++
			cp := *c
			return &cp, nil
		}
	}
	c.Items = append(c.Items, domain.LineItem{ProductID: productID, Quantity: 1})
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetItemQuantity(_ context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetItemQuantity"); err != nil {
		return nil, err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return nil, nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RemoveItem(_ context.Context, cartID, productID string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveItem"); err != nil {
		return nil, err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return nil, nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ReplaceItems(_ context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ReplaceItems"); err != nil {
		return nil, err
	}
	c, ok := f.carts[cartID]
	if !ok {
		return nil, nil
	}
	c.Items = domain.CloneItems(items)
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (f *fakeStore) CreateTicket(_ context.Context, ticket domain.Ticket) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTicket"); err != nil {
		return nil, err
	}
	f.tickets = append(f.tickets, ticket)
	return &ticket, nil
}

func (f *fakeStore) GetTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickets {
		if t.ID == ticketID {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListTicketsByPurchaser(_ context.Context, purchaser string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticket
	for _, t := range f.tickets {
		if t.Purchaser == purchaser {
			out = append(out, t)
		}
	}
	return out, nil
}

// lockingTransactor serializes units of work, enough to observe the absence of interleaving.
type lockingTransactor struct {
	mu sync.Mutex
}

func (l *lockingTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(port.MarkTransaction(ctx))
}

type mapGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *mapGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[string]bool)
	}
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.CatalogEvent
}

func (r *eventRecorder) publish(event domain.CatalogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []domain.CatalogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CatalogEvent(nil), r.events...)
}
