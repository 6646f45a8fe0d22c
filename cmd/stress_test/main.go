package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

const productID = "stress-item"

func main() {
	app := &cli.App{
		Name:  "stress_test",
		Usage: "check out many carts concurrently against one scarce product",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "stock", Value: 20, Usage: "initial stock of the product"},
			&cli.IntFlag{Name: "requests", Value: 50, Usage: "number of carts checked out concurrently"},
			&cli.BoolFlag{Name: "atomic", Value: true, Usage: "run each checkout as a unit of work"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("stress test failed")
	}
}

func run(c *cli.Context) error {
	ctx := context.Background()
	initialStock := c.Int("stock")
	totalRequests := c.Int("requests")

	store := storage.NewMemoryStore()
	if err := store.CreateProduct(ctx, domain.Product{
		ID:      productID,
		Name:    "stress item",
		Price:   decimal.NewFromInt(10),
		Stock:   initialStock,
		Version: 1,
	}); err != nil {
		return err
	}

	cartIDs := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		cart, err := store.CreateCart(ctx)
		if err != nil {
			return err
		}
		if _, err := store.AddItem(ctx, cart.ID, productID); err != nil {
			return err
		}
		cartIDs = append(cartIDs, cart.ID)
	}

	var tx port.Transactor = port.NopTransactor{}
	if c.Bool("atomic") {
		tx = store
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	checkout := service.NewCheckoutService(store, store, store,
		service.WithTransactor(tx),
		service.WithCheckoutLogger(log),
	)

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i, cartID := range cartIDs {
		wg.Add(1)
		go func(user int, cartID string) {
			defer wg.Done()

			_, err := checkout.Checkout(ctx, service.CheckoutRequest{
				CartID:    cartID,
				Purchaser: fmt.Sprintf("user-%d@example.com", user),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindNoStockAvailable:
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i, cartID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	product, err := store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	tickets := 0
	for i := range cartIDs {
		list, err := store.ListTicketsByPurchaser(ctx, fmt.Sprintf("user-%d@example.com", i))
		if err != nil {
			return err
		}
		tickets += len(list)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Atomic checkout:  %v\n", c.Bool("atomic"))
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Settled:          %d\n", success)
	fmt.Printf("Sold out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Tickets:          %d\n", tickets)
	fmt.Printf("Final Stock:      %d\n", product.Stock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := initialStock
	if totalRequests < expected {
		expected = totalRequests
	}
	if int(success) == expected && tickets == expected && product.Stock == initialStock-expected {
		fmt.Printf("PASS: exactly %d checkouts settled, stock is %d\n", expected, product.Stock)
		return nil
	}
	fmt.Printf("FAIL: expected %d settled and stock %d, got %d settled, %d tickets, stock %d\n",
		expected, initialStock-expected, success, tickets, product.Stock)
	return cli.Exit("oversold or undersold", 1)
}
