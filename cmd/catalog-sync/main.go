package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/farm-market-orders/internal/catalog"
	"github.com/ariefcatur/farm-market-orders/internal/config"
	kafkax "github.com/ariefcatur/farm-market-orders/internal/kafka"
	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/ariefcatur/farm-market-orders/internal/redisx"
	"github.com/joho/godotenv"
)

// catalog-sync evicts cached catalog entries for products reserved by placed orders.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-catalog-sync"

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("service", name)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// the evicting side never reads products
	svc := &catalog.SyncService{
		Cache:       &catalog.Cache{Redis: rdb, Log: logger},
		Redis:       rdb,
		ServiceName: name,
		Log:         logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CatalogSyncGroup, orders.TopicOrderPlaced, cfg.CatalogSyncWorkers, logger)
	logger.Info("catalog sync consumer started", "group", cfg.CatalogSyncGroup, "workers", cfg.CatalogSyncWorkers)
	if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
		logger.Error("consumer exit", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog sync stopped")
}
