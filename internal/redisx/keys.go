package redisx

import "time"

const (
	// Idempotent placement: idem:order:place:{consumer_id}:{key} -> "pending" | order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// Catalog cache: catalog:product:{product_id} -> product JSON
	KeyCatalogProduct = "catalog:product:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

const IdemPending = "pending"

var (
	TTLIdempotency = 24 * time.Hour
	TTLCatalog     = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)
