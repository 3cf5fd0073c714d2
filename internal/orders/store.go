package orders

import "context"

// Store is the product catalog and order storage used by the Coordinator.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// Non-transactional reads for browsing; may be stale.
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetOrder(ctx context.Context, id string) (Order, error)

	// UpdateOrderStatus moves id from -> to only if its current status is from.
	// Returns ErrOrderNotFound if no such order, ErrWriteConflict if status != from.
	UpdateOrderStatus(ctx context.Context, id string, from, to Status) error
}

// Tx is a single placement attempt. Rollback after Commit is a no-op, so callers
// can always defer it.
type Tx interface {
	// GetProduct reads within the transaction and observes the tx's own writes.
	GetProduct(ctx context.Context, id string) (Product, error)
	// ReserveStock decrements available quantity by qty only while it stays >= 0.
	// Returns ErrWriteConflict if the stock moved underneath the transaction.
	ReserveStock(ctx context.Context, id string, qty int) error
	InsertOrder(ctx context.Context, o Order) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
