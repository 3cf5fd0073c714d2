package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/farm-market-orders/internal/kafka"
	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/ariefcatur/farm-market-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// SyncService evicts cached products touched by a placed order.
type SyncService struct {
	Cache       *Cache
	Redis       redis.Cmdable
	ServiceName string
	Log         *slog.Logger
}

// HandleOrderPlaced is installed as the consumer handler.
func (s *SyncService) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let the offset move on
		s.Log.Error("decode envelope", "offset", m.Offset, "error", err)
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Error("decode payload", "event_id", env.EventID, "error", err)
		return nil
	}

	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ProductID)
	}
	if err := s.Cache.Evict(ctx, ids...); err != nil {
		return fmt.Errorf("evict products of order %s: %w", p.OrderID, err)
	}
	// marked after eviction; a crash before this line only repeats the DEL
	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		s.Log.Warn("dedup mark", "event_id", env.EventID, "error", err)
	}
	s.Log.Debug("catalog cache evicted", "order_id", p.OrderID, "products", len(ids))
	return nil
}
