package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type sqlTxKey struct{}

// sqlExecutor is implemented by both *sqlx.DB and *sqlx.Tx.
type sqlExecutor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type productRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Category    string          `db:"category"`
	Price       decimal.Decimal `db:"price"`
	Stock       int             `db:"stock"`
	Version     int             `db:"version"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Stock:       r.Stock,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func newProductRow(p domain.Product) productRow {
	return productRow{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Stock:       p.Stock,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type cartRow struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type cartItemRow struct {
	CartID    string `db:"cart_id"`
	ProductID string `db:"product_id"`
	Quantity  int    `db:"quantity"`
}

type ticketRow struct {
	ID          string          `db:"id"`
	Amount      decimal.Decimal `db:"amount"`
	Purchaser   string          `db:"purchaser"`
	PurchasedAt time.Time       `db:"purchased_at"`
}

type ticketItemRow struct {
	TicketID  string          `db:"ticket_id"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

const productColumns = `id, name, description, category, price, stock, version, created_at, updated_at`

type MySQLAdapter struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() string
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// OpenMySQL connects and verifies the database. The DSN needs parseTime=true.
func OpenMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func (m *MySQLAdapter) conn(ctx context.Context) sqlExecutor {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return m.db
}

// forUpdate locks the selected rows when ctx runs inside a unit of work.
func forUpdate(ctx context.Context) string {
	if _, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return " FOR UPDATE"
	}
	return ""
}

func (m *MySQLAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqlTxKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	txCtx := context.WithValue(port.MarkTransaction(ctx), sqlTxKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}

	port.Committed(txCtx)
	return nil
}

// Catalog

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	err := m.conn(ctx).GetContext(ctx, &row,
		`SELECT `+productColumns+` FROM products WHERE id = ?`+forUpdate(ctx), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query product")
	}

	p := row.toDomain()
	return &p, nil
}

func (m *MySQLAdapter) SetStock(ctx context.Context, productID string, stock int) (*domain.Product, error) {
	result, err := m.conn(ctx).ExecContext(ctx, `
		UPDATE products
		SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		stock, m.now(), productID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "update stock")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, nil
	}
	return m.GetProduct(ctx, productID)
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error) {
	var total int
	if err := m.conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM products`); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}
	if limit <= 0 {
		return []domain.Product{}, total, nil
	}

	var rows []productRow
	err := m.conn(ctx).SelectContext(ctx, &rows,
		`SELECT `+productColumns+` FROM products ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "query products")
	}

	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, total, nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := sqlx.NamedExecContext(ctx, m.conn(ctx), `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :description, :category, :price, :stock, :version, :created_at, :updated_at)`,
		newProductRow(product),
	)
	return errors.Wrap(err, "insert product")
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	result, err := sqlx.NamedExecContext(ctx, m.conn(ctx), `
		UPDATE products
		SET name = :name, description = :description, category = :category, price = :price,
			stock = :stock, version = version + 1, updated_at = :updated_at
		WHERE id = :id AND version = :version`,
		newProductRow(product),
	)
	if err != nil {
		return nil, errors.Wrap(err, "update product")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		current, err := m.GetProduct(ctx, product.ID)
		if err != nil || current == nil {
			return nil, err
		}
		return nil, port.ErrVersionConflict
	}
	return m.GetProduct(ctx, product.ID)
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	result, err := m.conn(ctx).ExecContext(ctx, `DELETE FROM products WHERE id = ?`, productID)
	if err != nil {
		return false, errors.Wrap(err, "delete product")
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Carts

func (m *MySQLAdapter) CreateCart(ctx context.Context) (*domain.Cart, error) {
	now := m.now()
	cart := domain.Cart{ID: m.newID(), Items: []domain.LineItem{}, CreatedAt: now, UpdatedAt: now}

	_, err := m.conn(ctx).ExecContext(ctx,
		`INSERT INTO carts (id, created_at, updated_at) VALUES (?, ?, ?)`,
		cart.ID, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert cart")
	}
	return &cart, nil
}

func (m *MySQLAdapter) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var row cartRow
	err := m.conn(ctx).GetContext(ctx, &row,
		`SELECT id, created_at, updated_at FROM carts WHERE id = ?`+forUpdate(ctx), cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}

	var items []cartItemRow
	err = m.conn(ctx).SelectContext(ctx, &items, `
		SELECT cart_id, product_id, quantity FROM cart_items
		WHERE cart_id = ? ORDER BY position`, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart items")
	}

	cart := &domain.Cart{ID: row.ID, Items: make([]domain.LineItem, 0, len(items)), CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
	for _, it := range items {
		cart.Items = append(cart.Items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return cart, nil
}

func (m *MySQLAdapter) ListCarts(ctx context.Context) ([]domain.Cart, error) {
	var rows []cartRow
	if err := m.conn(ctx).SelectContext(ctx, &rows,
		`SELECT id, created_at, updated_at FROM carts ORDER BY created_at, id`); err != nil {
		return nil, errors.Wrap(err, "query carts")
	}

	var items []cartItemRow
	if err := m.conn(ctx).SelectContext(ctx, &items,
		`SELECT cart_id, product_id, quantity FROM cart_items ORDER BY cart_id, position`); err != nil {
		return nil, errors.Wrap(err, "query cart items")
	}
	byCart := make(map[string][]domain.LineItem)
	for _, it := range items {
		byCart[it.CartID] = append(byCart[it.CartID], domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	carts := make([]domain.Cart, 0, len(rows))
	for _, r := range rows {
		carts = append(carts, domain.Cart{
			ID:        r.ID,
			Items:     domain.CloneItems(byCart[r.ID]),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return carts, nil
}

// mutateCart locks the cart row, runs change and touches updated_at. A nil cart means the cart is absent
// or change reported that nothing matched.
func (m *MySQLAdapter) mutateCart(ctx context.Context, cartID string, change func(ctx context.Context, db sqlExecutor) (bool, error)) (*domain.Cart, error) {
	var out *domain.Cart
	err := m.WithinTransaction(ctx, func(ctx context.Context) error {
		var id string
		err := m.conn(ctx).GetContext(ctx, &id, `SELECT id FROM carts WHERE id = ? FOR UPDATE`, cartID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}

		ok, err := change(ctx, m.conn(ctx))
		if err != nil || !ok {
			return err
		}

		if _, err := m.conn(ctx).ExecContext(ctx,
			`UPDATE carts SET updated_at = ? WHERE id = ?`, m.now(), cartID); err != nil {
			return errors.Wrap(err, "touch cart")
		}

		out, err = m.GetCart(ctx, cartID)
		return err
	})
	return out, err
}

func (m *MySQLAdapter) AddItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return m.mutateCart(ctx, cartID, func(ctx context.Context, db sqlExecutor) (bool, error) {
		var last int
		if err := db.GetContext(ctx, &last,
			`SELECT COALESCE(MAX(position), 0) FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
			return false, errors.Wrap(err, "query position")
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity, position)
			VALUES (?, ?, 1, ?)
			ON DUPLICATE KEY UPDATE quantity = quantity + 1`,
			cartID, productID, last+1,
		)
		return err == nil, errors.Wrap(err, "upsert cart item")
	})
}

func (m *MySQLAdapter) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	return m.mutateCart(ctx, cartID, func(ctx context.Context, db sqlExecutor) (bool, error) {
		var n int
		if err := db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID); err != nil {
			return false, errors.Wrap(err, "query cart item")
		}
		if n == 0 {
			return false, nil
		}
		_, err := db.ExecContext(ctx,
			`UPDATE cart_items SET quantity = ? WHERE cart_id = ? AND product_id = ?`,
			quantity, cartID, productID,
		)
		return err == nil, errors.Wrap(err, "update cart item")
	})
}

func (m *MySQLAdapter) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return m.mutateCart(ctx, cartID, func(ctx context.Context, db sqlExecutor) (bool, error) {
		result, err := db.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
		if err != nil {
			return false, errors.Wrap(err, "delete cart item")
		}
		rows, _ := result.RowsAffected()
		return rows > 0, nil
	})
}

func (m *MySQLAdapter) ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	return m.mutateCart(ctx, cartID, func(ctx context.Context, db sqlExecutor) (bool, error) {
		if _, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
			return false, errors.Wrap(err, "clear cart items")
		}
		for i, item := range items {
			if _, err := db.ExecContext(ctx,
				`INSERT INTO cart_items (cart_id, product_id, quantity, position) VALUES (?, ?, ?, ?)`,
				cartID, item.ProductID, item.Quantity, i+1,
			); err != nil {
				return false, errors.Wrap(err, "insert cart item")
			}
		}
		return true, nil
	})
}

// Tickets

func (m *MySQLAdapter) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.Ticket, error) {
	err := m.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := m.conn(ctx).ExecContext(ctx,
			`INSERT INTO tickets (id, amount, purchaser, purchased_at) VALUES (?, ?, ?, ?)`,
			ticket.ID, ticket.Amount, ticket.Purchaser, ticket.PurchasedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert ticket")
		}
		for i, item := range ticket.Items {
			if _, err := m.conn(ctx).ExecContext(ctx, `
				INSERT INTO ticket_items (ticket_id, product_id, quantity, unit_price, position)
				VALUES (?, ?, ?, ?, ?)`,
				ticket.ID, item.ProductID, item.Quantity, item.UnitPrice, i+1,
			); err != nil {
				return errors.Wrap(err, "insert ticket item")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (m *MySQLAdapter) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	var row ticketRow
	err := m.conn(ctx).GetContext(ctx, &row,
		`SELECT id, amount, purchaser, purchased_at FROM tickets WHERE id = ?`, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query ticket")
	}

	tickets, err := m.attachTicketItems(ctx, []ticketRow{row})
	if err != nil {
		return nil, err
	}
	return &tickets[0], nil
}

func (m *MySQLAdapter) ListTicketsByPurchaser(ctx context.Context, purchaser string) ([]domain.Ticket, error) {
	var rows []ticketRow
	err := m.conn(ctx).SelectContext(ctx, &rows, `
		SELECT id, amount, purchaser, purchased_at FROM tickets
		WHERE purchaser = ? ORDER BY purchased_at, id`, purchaser)
	if err != nil {
		return nil, errors.Wrap(err, "query tickets")
	}
	if len(rows) == 0 {
		return []domain.Ticket{}, nil
	}
	return m.attachTicketItems(ctx, rows)
}

func (m *MySQLAdapter) attachTicketItems(ctx context.Context, rows []ticketRow) ([]domain.Ticket, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	query, args, err := sqlx.In(`
		SELECT ticket_id, product_id, quantity, unit_price FROM ticket_items
		WHERE ticket_id IN (?) ORDER BY ticket_id, position`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build ticket items query")
	}

	db := m.conn(ctx)
	var items []ticketItemRow
	if err := db.SelectContext(ctx, &items, db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "query ticket items")
	}

	byTicket := make(map[string][]domain.TicketItem, len(rows))
	for _, it := range items {
		byTicket[it.TicketID] = append(byTicket[it.TicketID], domain.TicketItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	tickets := make([]domain.Ticket, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.Ticket{
			ID:          r.ID,
			Amount:      r.Amount,
			Purchaser:   r.Purchaser,
			Items:       byTicket[r.ID],
			PurchasedAt: r.PurchasedAt,
		})
	}
	return tickets, nil
}
