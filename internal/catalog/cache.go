// Package catalog serves product reads for browsing. Reads go through a short-lived
// Redis cache; staleness is acceptable because checkout re-reads inside its transaction.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/ariefcatur/farm-market-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type Cache struct {
	Store ProductReader
	Redis redis.Cmdable
	TTL   time.Duration
	Log   *slog.Logger
}

func (c *Cache) Product(ctx context.Context, id string) (orders.Product, error) {
	key := fmt.Sprintf(redisx.KeyCatalogProduct, id)
	var p orders.Product
	found, err := redisx.GetJSON(ctx, c.Redis, key, &p)
	if err != nil {
		c.Log.Warn("catalog cache read", "product_id", id, "error", err)
	}
	if found {
		return p, nil
	}

	p, err = c.Store.GetProduct(ctx, id)
	if err != nil {
		return orders.Product{}, err
	}
	if err := redisx.SetJSON(ctx, c.Redis, key, p, c.ttl()); err != nil {
		c.Log.Warn("catalog cache write", "product_id", id, "error", err)
	}
	return p, nil
}

// List is never cached; it is already a single query.
func (c *Cache) List(ctx context.Context) ([]orders.Product, error) {
	return c.Store.ListProducts(ctx)
}

func (c *Cache) Evict(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, fmt.Sprintf(redisx.KeyCatalogProduct, id))
	}
	return c.Redis.Del(ctx, keys...).Err()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return redisx.TTLCatalog
}
