package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/rl1809/storefront/internal/adapter/broadcast"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

const hubBuffer = 16

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "catalog, carts and checkout server",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and gRPC servers",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back the MySQL schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: migrateUp,
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
						},
						Action: migrateDown,
					},
				},
			},
			{
				Name:  "seed",
				Usage: "load generated mock products into the configured database",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 100, Usage: "number of products to create"},
				},
				Action: seed,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("storefront exited")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// stores holds the repositories selected by the persistence mode.
type stores struct {
	catalog port.CatalogRepository
	carts   port.CartRepository
	tickets port.TicketRepository
	tx      port.Transactor
	guard   port.IdempotencyGuard
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*stores, error) {
	s := &stores{}

	switch cfg.Persistence {
	case config.PersistenceMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Close() })
		if err := storage.MigrateUp(db.DB); err != nil {
			s.close()
			return nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		s.catalog, s.carts, s.tickets, s.tx = adapter, adapter, adapter, adapter
		log.Info("connected to mysql")

	case config.PersistenceMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Client().Disconnect(context.Background()) })
		adapter := storage.NewMongoAdapter(db, cfg.MongoTransactions)
		if err := adapter.CreateIndexes(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.catalog, s.carts, s.tickets, s.tx = adapter, adapter, adapter, adapter
		log.WithField("transactions", cfg.MongoTransactions).Info("connected to mongodb")

	default:
		store := storage.NewMemoryStore()
		s.catalog, s.carts, s.tickets, s.tx, s.guard = store, store, store, store, store
		log.Info("using in-memory store")
	}

	switch {
	case !cfg.AtomicCheckout:
		s.tx = port.NopTransactor{}
		log.Warn("checkout runs without a unit of work")
	case !cfg.CheckoutAtomic():
		log.Warn("atomic checkout requested but mongodb transactions are disabled; concurrent checkouts can oversell")
	}
	if !cfg.IdempotencyEnabled() {
		log.Warn("no redis configured; Idempotency-Key headers are ignored")
	}
	return s, nil
}

func serve(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	reg := metrics.NewRegistry()
	hub := broadcast.NewHub(hubBuffer)
	var sinks []broadcast.Sink

	var relayDone chan struct{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer rdb.Close()
		log.Info("connected to redis")

		cache := storage.NewRedisAdapter(rdb)
		st.carts = storage.NewCachedCartRepository(st.carts, cache, log)
		st.guard = cache

		// every instance relays the shared channel into its own hub
		sinks = append(sinks, broadcast.NewRedisSink(rdb, broadcast.FeedChannel))
		relay := broadcast.NewRedisRelay(rdb, broadcast.FeedChannel, hub, log)
		relayDone = make(chan struct{})
		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx, nil); err != nil {
				log.WithError(err).Error("catalog feed relay stopped")
			}
		}()
	} else {
		sinks = append(sinks, hub)
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafka := broadcast.NewKafkaSink(brokers, cfg.KafkaCatalogTopic)
		defer kafka.Close()
		sinks = append(sinks, kafka)
		log.WithField("topic", cfg.KafkaCatalogTopic).Info("publishing catalog events to kafka")
	}

	dispatcher := broadcast.NewDispatcher(cfg.FeedQueueSize, cfg.FeedWorkers, log, sinks, broadcast.WithMetrics(reg))
	dispatcher.Start()
	log.Infof("started %d feed workers", cfg.FeedWorkers)

	checkoutOpts := []service.CheckoutOption{
		service.WithTransactor(st.tx),
		service.WithCheckoutPublisher(dispatcher.Publish),
		service.WithCheckoutLogger(log),
	}
	if st.guard != nil {
		checkoutOpts = append(checkoutOpts, service.WithIdempotencyGuard(st.guard))
	}
	checkout := service.NewCheckoutService(st.carts, st.catalog, st.tickets, checkoutOpts...)
	catalog := service.NewCatalogService(st.catalog, dispatcher.Publish, log)
	carts := service.NewCartService(st.carts, st.catalog, log)
	tickets := service.NewTicketService(st.tickets)

	// gRPC
	grpcServer, healthServer := handler.NewGRPCServer(handler.NewGRPCHandler(checkout, reg, log), log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return errors.Wrap(err, "listen grpc")
	}
	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// HTTP
	httpHandler := handler.NewHTTPHandler(catalog, carts, checkout, tickets, hub,
		handler.WithHTTPMetrics(reg),
		handler.WithHTTPLogger(log),
		handler.WithRequestTimeout(cfg.RequestTimeout),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer.RegisterOnShutdown(hub.Close)

	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not drain in time")
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// stop the relay before draining so no event arrives after the hub is closed
	cancel()
	if relayDone != nil {
		<-relayDone
	}
	dispatcher.Close()
	log.WithField("dropped", dispatcher.Dropped()).Info("feed workers stopped")

	return nil
}

func migrateUp(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	db, err := storage.OpenMySQL(c.Context, cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.MigrateUp(db.DB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

func migrateDown(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	db, err := storage.OpenMySQL(c.Context, cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	steps := c.Int("steps")
	if err := storage.MigrateDown(db.DB, steps); err != nil {
		return err
	}
	log.WithField("steps", steps).Info("migrations rolled back")
	return nil
}

func seed(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Persistence == config.PersistenceMemory {
		return cli.Exit("seeding needs mysql or mongodb persistence", 1)
	}
	log := newLogger(cfg)

	st, err := openStores(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	seeded, err := service.NewCatalogService(st.catalog, nil, log).SeedProducts(c.Context, c.Int("count"))
	if err != nil {
		return errors.Wrapf(err, "seeded %d products before failing", len(seeded))
	}
	return nil
}
