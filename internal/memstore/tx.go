package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/farm-market-orders/internal/orders"
)

var errTxDone = errors.New("memstore: transaction already finished")

// tx stages every write locally; nothing is visible to other readers before Commit.
type tx struct {
	s       *Store
	read    map[string]uint64 // product id -> version observed at first read
	written map[string]orders.Product
	order   *orders.Order
	done    bool
}

func (t *tx) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	if err := t.check(ctx); err != nil {
		return orders.Product{}, err
	}
	if p, ok := t.written[id]; ok {
		return p, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.products[id]
	t.s.mu.RUnlock()
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	if _, seen := t.read[id]; !seen {
		t.read[id] = r.version
	}
	return r.p, nil
}

func (t *tx) ReserveStock(ctx context.Context, id string, qty int) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	p, err := t.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if p.AvailableQuantity < qty {
		return fmt.Errorf("%w: product %s has %d, need %d", orders.ErrWriteConflict, id, p.AvailableQuantity, qty)
	}
	p.AvailableQuantity -= qty
	p.UpdatedAt = t.s.now()
	t.written[id] = p
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o orders.Order) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if t.order != nil {
		return fmt.Errorf("memstore: order already staged in this transaction")
	}
	o = cloneOrder(o)
	t.order = &o
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id := range t.written {
		cur, ok := t.s.products[id]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
		}
		if cur.version != t.read[id] {
			return fmt.Errorf("%w: product %s changed since read", orders.ErrWriteConflict, id)
		}
	}
	if t.order != nil {
		if _, dup := t.s.orders[t.order.ID]; dup {
			return fmt.Errorf("memstore: duplicate order id %s", t.order.ID)
		}
	}

	for id, p := range t.written {
		t.s.products[id] = record{p: p, version: t.s.products[id].version + 1}
	}
	if t.order != nil {
		t.s.orders[t.order.ID] = *t.order
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	t.written = nil
	t.order = nil
	return nil
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}
