package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Category    string               `bson:"category"`
	Price       primitive.Decimal128 `bson:"price"`
	Stock       int                  `bson:"stock"`
	Version     int                  `bson:"version"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type lineItemDoc struct {
	ProductID string `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
}

type cartDoc struct {
	ID        string        `bson:"_id"`
	Items     []lineItemDoc `bson:"items"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type ticketItemDoc struct {
	ProductID string               `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
}

type ticketDoc struct {
	ID          string               `bson:"_id"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Purchaser   string               `bson:"purchaser"`
	Items       []ticketItemDoc      `bson:"items"`
	PurchasedAt time.Time            `bson:"purchased_at"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (d productDoc) toDomain() domain.Product {
	return domain.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Price:       fromDecimal128(d.Price),
		Stock:       d.Stock,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (d cartDoc) toDomain() domain.Cart {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return domain.Cart{ID: d.ID, Items: items, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

func (d ticketDoc) toDomain() domain.Ticket {
	items := make([]domain.TicketItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, domain.TicketItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: fromDecimal128(it.UnitPrice),
		})
	}
	return domain.Ticket{
		ID:          d.ID,
		Amount:      fromDecimal128(d.Amount),
		Purchaser:   d.Purchaser,
		Items:       items,
		PurchasedAt: d.PurchasedAt,
	}
}

func lineItemDocs(items []domain.LineItem) []lineItemDoc {
	docs := make([]lineItemDoc, 0, len(items))
	for _, it := range items {
		docs = append(docs, lineItemDoc{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return docs
}

type MongoAdapter struct {
	client       *mongo.Client
	products     *mongo.Collection
	carts        *mongo.Collection
	tickets      *mongo.Collection
	transactions bool
	now          func() time.Time
	newID        func() string
}

// NewMongoAdapter uses the products, carts and tickets collections of db. Session transactions need
// a replica set, so they are only used when transactions is true.
func NewMongoAdapter(db *mongo.Database, transactions bool) *MongoAdapter {
	return &MongoAdapter{
		client:       db.Client(),
		products:     db.Collection("products"),
		carts:        db.Collection("carts"),
		tickets:      db.Collection("tickets"),
		transactions: transactions,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}
	return client.Database(database), nil
}

func (m *MongoAdapter) CreateIndexes(ctx context.Context) error {
	if _, err := m.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "failed to create product indexes")
	}
	if _, err := m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "purchaser", Value: 1}, {Key: "purchased_at", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "failed to create ticket indexes")
	}
	return nil
}

func (m *MongoAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	// the callback may run again on transient errors; only the last attempt's hooks count
	var txCtx context.Context
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		txCtx = port.MarkTransaction(sc)
		return nil, fn(txCtx)
	})
	if err != nil {
		return err
	}

	port.Committed(txCtx)
	return nil
}

// Catalog

func (m *MongoAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var doc productDoc
	err := m.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get product")
	}
	p := doc.toDomain()
	return &p, nil
}

func (m *MongoAdapter) SetStock(ctx context.Context, productID string, stock int) (*domain.Product, error) {
	var doc productDoc
	err := m.products.FindOneAndUpdate(ctx,
		bson.M{"_id": productID},
		bson.M{
			"$set": bson.M{"stock": stock, "updated_at": m.now()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to set stock")
	}
	p := doc.toDomain()
	return &p, nil
}

func (m *MongoAdapter) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error) {
	total, err := m.products.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count products")
	}
	if limit <= 0 {
		return []domain.Product{}, int(total), nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := m.products.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list products")
	}

	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, errors.Wrap(err, "failed to decode products")
	}
	products := make([]domain.Product, 0, len(docs))
	for _, d := range docs {
		products = append(products, d.toDomain())
	}
	return products, int(total), nil
}

func (m *MongoAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.products.InsertOne(ctx, productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       toDecimal128(p.Price),
		Stock:       p.Stock,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	})
	return errors.Wrap(err, "failed to insert product")
}

func (m *MongoAdapter) UpdateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	result, err := m.products.UpdateOne(ctx,
		bson.M{"_id": p.ID, "version": p.Version},
		bson.M{
			"$set": bson.M{
				"name":        p.Name,
				"description": p.Description,
				"category":    p.Category,
				"price":       toDecimal128(p.Price),
				"stock":       p.Stock,
				"updated_at":  p.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update product")
	}

	if result.MatchedCount == 0 {
		current, err := m.GetProduct(ctx, p.ID)
		if err != nil || current == nil {
			return nil, err
		}
		return nil, port.ErrVersionConflict
	}
	return m.GetProduct(ctx, p.ID)
}

func (m *MongoAdapter) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	result, err := m.products.DeleteOne(ctx, bson.M{"_id": productID})
	if err != nil {
		return false, errors.Wrap(err, "failed to delete product")
	}
	return result.DeletedCount > 0, nil
}

// Carts

func (m *MongoAdapter) CreateCart(ctx context.Context) (*domain.Cart, error) {
	now := m.now()
	doc := cartDoc{ID: m.newID(), Items: []lineItemDoc{}, CreatedAt: now, UpdatedAt: now}
	if _, err := m.carts.InsertOne(ctx, doc); err != nil {
		return nil, errors.Wrap(err, "failed to create cart")
	}
	cart := doc.toDomain()
	return &cart, nil
}

func (m *MongoAdapter) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var doc cartDoc
	err := m.carts.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cart")
	}
	cart := doc.toDomain()
	return &cart, nil
}

func (m *MongoAdapter) ListCarts(ctx context.Context) ([]domain.Cart, error) {
	cur, err := m.carts.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list carts")
	}
	var docs []cartDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode carts")
	}
	carts := make([]domain.Cart, 0, len(docs))
	for _, d := range docs {
		carts = append(carts, d.toDomain())
	}
	return carts, nil
}

// updateCart applies update to the cart matching filter and returns the new state, or nil when
// nothing matched.
func (m *MongoAdapter) updateCart(ctx context.Context, filter, update bson.M, opts ...*options.FindOneAndUpdateOptions) (*domain.Cart, error) {
	opts = append(opts, options.FindOneAndUpdate().SetReturnDocument(options.After))

	var doc cartDoc
	err := m.carts.FindOneAndUpdate(ctx, filter, update, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update cart")
	}
	cart := doc.toDomain()
	return &cart, nil
}

func (m *MongoAdapter) AddItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cart, err := m.updateCart(ctx,
			bson.M{"_id": cartID, "items.product_id": productID},
			bson.M{
				"$inc": bson.M{"items.$[elem].quantity": 1},
				"$set": bson.M{"updated_at": m.now()},
			},
			options.FindOneAndUpdate().SetArrayFilters(options.ArrayFilters{
				Filters: []interface{}{bson.M{"elem.product_id": productID}},
			}),
		)
		if err != nil || cart != nil {
			return cart, err
		}

		cart, err = m.updateCart(ctx,
			bson.M{"_id": cartID, "items.product_id": bson.M{"$ne": productID}},
			bson.M{
				"$push": bson.M{"items": lineItemDoc{ProductID: productID, Quantity: 1}},
				"$set":  bson.M{"updated_at": m.now()},
			},
		)
		if err != nil || cart != nil {
			return cart, err
		}

		// Either the cart is gone or the line appeared between the two updates.
		existing, err := m.GetCart(ctx, cartID)
		if err != nil || existing == nil {
			return nil, err
		}
	}
	return m.GetCart(ctx, cartID)
}

func (m *MongoAdapter) SetItemQuantity(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	return m.updateCart(ctx,
		bson.M{"_id": cartID, "items.product_id": productID},
		bson.M{"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             m.now(),
		}},
		options.FindOneAndUpdate().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.product_id": productID}},
		}),
	)
}

func (m *MongoAdapter) RemoveItem(ctx context.Context, cartID, productID string) (*domain.Cart, error) {
	return m.updateCart(ctx,
		bson.M{"_id": cartID, "items.product_id": productID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"product_id": productID}},
			"$set":  bson.M{"updated_at": m.now()},
		},
	)
}

func (m *MongoAdapter) ReplaceItems(ctx context.Context, cartID string, items []domain.LineItem) (*domain.Cart, error) {
	return m.updateCart(ctx,
		bson.M{"_id": cartID},
		bson.M{"$set": bson.M{"items": lineItemDocs(items), "updated_at": m.now()}},
	)
}

// Tickets

func (m *MongoAdapter) CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.Ticket, error) {
	items := make([]ticketItemDoc, 0, len(ticket.Items))
	for _, it := range ticket.Items {
		items = append(items, ticketItemDoc{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: toDecimal128(it.UnitPrice),
		})
	}
	_, err := m.tickets.InsertOne(ctx, ticketDoc{
		ID:          ticket.ID,
		Amount:      toDecimal128(ticket.Amount),
		Purchaser:   ticket.Purchaser,
		Items:       items,
		PurchasedAt: ticket.PurchasedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert ticket")
	}
	return &ticket, nil
}

func (m *MongoAdapter) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	var doc ticketDoc
	err := m.tickets.FindOne(ctx, bson.M{"_id": ticketID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ticket")
	}
	t := doc.toDomain()
	return &t, nil
}

func (m *MongoAdapter) ListTicketsByPurchaser(ctx context.Context, purchaser string) ([]domain.Ticket, error) {
	cur, err := m.tickets.Find(ctx, bson.M{"purchaser": purchaser},
		options.Find().SetSort(bson.D{{Key: "purchased_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tickets")
	}
	var docs []ticketDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode tickets")
	}
	tickets := make([]domain.Ticket, 0, len(docs))
	for _, d := range docs {
		tickets = append(tickets, d.toDomain())
	}
	return tickets, nil
}
