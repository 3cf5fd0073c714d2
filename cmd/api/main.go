package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/catalog"
	"github.com/ariefcatur/farm-market-orders/internal/config"
	"github.com/ariefcatur/farm-market-orders/internal/httpx"
	kafkax "github.com/ariefcatur/farm-market-orders/internal/kafka"
	"github.com/ariefcatur/farm-market-orders/internal/memstore"
	"github.com/ariefcatur/farm-market-orders/internal/metrics"
	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/ariefcatur/farm-market-orders/internal/postgres"
	"github.com/ariefcatur/farm-market-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, logger)
	prod.Start()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	coord := orders.NewCoordinator(store,
		orders.WithTimeout(cfg.PlaceOrderTimeout),
		orders.WithRetryPolicy(orders.RetryPolicy{
			MaxAttempts: cfg.PlaceOrderMaxAttempts,
			BaseBackoff: orders.DefaultRetryPolicy.BaseBackoff,
			MaxBackoff:  orders.DefaultRetryPolicy.MaxBackoff,
		}),
		orders.WithLogger(logger.With("component", "coordinator")),
		orders.WithObserver(m),
	)

	router := httpx.NewRouter(logger, m, reg)
	oh := &httpx.OrdersHandler{
		Orders:   coord,
		Catalog:  &catalog.Cache{Store: store, Redis: rdb, Log: logger},
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName,
		Log:      logger,
	}
	oh.Register(router, httpx.AuthMiddleware([]byte(cfg.JWTSecret)))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush queued events
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return &orders.Repo{DB: db}, db.Close, nil
	default:
		return nil, nil, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}
}
