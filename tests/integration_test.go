package tests

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type testEnv struct {
	redis   *redis.Client
	db      *storage.MySQLAdapter
	cache   *storage.RedisAdapter
	carts   *storage.CachedCartRepository
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := storage.OpenMySQL(context.Background(), mysqlDSN)
	if err != nil {
		rdb.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	if err := storage.MigrateUp(db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log, _ := test.NewNullLogger()
	mysqlAdapter := storage.NewMySQLAdapter(db)
	cache := storage.NewRedisAdapter(rdb)
	return &testEnv{
		redis: rdb,
		db:    mysqlAdapter,
		cache: cache,
		carts: storage.NewCachedCartRepository(mysqlAdapter, cache, log),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

func (e *testEnv) seedProduct(t *testing.T, stock int) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	err := e.db.CreateProduct(context.Background(), domain.Product{
		ID:      id,
		Name:    "integration item",
		Price:   decimal.RequireFromString("12.50"),
		Stock:   stock,
		Version: 1,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

func (e *testEnv) seedCart(t *testing.T, items ...domain.LineItem) string {
	t.Helper()
	ctx := context.Background()
	cart, err := e.carts.CreateCart(ctx)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, err := e.carts.ReplaceItems(ctx, cart.ID, items); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	return cart.ID
}

func (e *testEnv) checkoutService(opts ...service.CheckoutOption) *service.CheckoutService {
	log, _ := test.NewNullLogger()
	opts = append([]service.CheckoutOption{
		service.WithTransactor(e.db),
		service.WithIdempotencyGuard(e.cache),
		service.WithCheckoutLogger(log),
	}, opts...)
	return service.NewCheckoutService(e.carts, e.db, e.db, opts...)
}

func TestIntegration_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	initialStock := 10
	totalRequests := 20
	productID := env.seedProduct(t, initialStock)

	cartIDs := make([]string, totalRequests)
	for i := range cartIDs {
		cartIDs[i] = env.seedCart(t, domain.LineItem{ProductID: productID, Quantity: 1})
	}
	svc := env.checkoutService()

	var successCount, soldOutCount atomic.Int32
	var wg sync.WaitGroup
	for i, cartID := range cartIDs {
		wg.Add(1)
		go func(user int, cartID string) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, service.CheckoutRequest{
				CartID:    cartID,
				Purchaser: fmt.Sprintf("user-%d@example.com", user),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindNoStockAvailable:
				soldOutCount.Add(1)
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(i, cartID)
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d settled checkouts, got %d", initialStock, successCount.Load())
	}
	if soldOutCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d sold out checkouts, got %d", totalRequests-initialStock, soldOutCount.Load())
	}

	product, err := env.db.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 {
		t.Errorf("expected stock 0, got %d", product.Stock)
	}
}

// failingTickets refuses every ticket so the unit of work has to roll back.
type failingTickets struct {
	*storage.MySQLAdapter
}

var errLedgerDown = errors.New("ledger unavailable")

func (failingTickets) CreateTicket(context.Context, domain.Ticket) (*domain.Ticket, error) {
	return nil, errLedgerDown
}

func TestIntegration_RollbackOnLedgerFailure(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	initialStock := 5
	productID := env.seedProduct(t, initialStock)
	cartID := env.seedCart(t, domain.LineItem{ProductID: productID, Quantity: 2})

	log, _ := test.NewNullLogger()
	svc := service.NewCheckoutService(env.carts, env.db, failingTickets{env.db},
		service.WithTransactor(env.db),
		service.WithCheckoutLogger(log),
	)

	_, err := svc.Checkout(ctx, service.CheckoutRequest{CartID: cartID, Purchaser: "user@example.com"})
	if !errors.Is(err, errLedgerDown) {
		t.Fatalf("expected ledger failure, got: %v", err)
	}

	product, err := env.db.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != initialStock {
		t.Errorf("expected stock %d after rollback, got %d", initialStock, product.Stock)
	}

	cart, err := env.carts.GetCart(ctx, cartID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Errorf("expected cart to keep its item, got %+v", cart.Items)
	}
}

func TestIntegration_IdempotencyPreventsDoubleCheckout(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	productID := env.seedProduct(t, 10)
	cartID := env.seedCart(t, domain.LineItem{ProductID: productID, Quantity: 1})
	svc := env.checkoutService()
	req := service.CheckoutRequest{
		CartID:         cartID,
		Purchaser:      "user@example.com",
		IdempotencyKey: uuid.NewString(),
	}

	if _, err := svc.Checkout(ctx, req); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	// refill the cart; a replay must still be refused
	if _, err := env.carts.ReplaceItems(ctx, cartID, []domain.LineItem{{ProductID: productID, Quantity: 1}}); err != nil {
		t.Fatalf("refill cart: %v", err)
	}
	_, err := svc.Checkout(ctx, req)
	if err != service.ErrDuplicateRequest {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	product, err := env.db.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 9 {
		t.Errorf("expected stock 9, got %d", product.Stock)
	}

	tickets, err := env.db.ListTicketsByPurchaser(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	found := 0
	for _, tk := range tickets {
		if tk.Items[0].ProductID == productID {
			found++
		}
	}
	if found != 1 {
		t.Errorf("expected 1 ticket for the product, got %d", found)
	}
}
