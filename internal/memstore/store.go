// Package memstore is an in-memory orders.Store with optimistic concurrency control.
// Each committed product write bumps a version; a transaction that wrote a product
// whose version moved since it was read fails to commit with orders.ErrWriteConflict.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/orders"
)

type record struct {
	p       orders.Product
	version uint64
}

type Store struct {
	mu       sync.RWMutex
	products map[string]record
	orders   map[string]orders.Order
	now      func() time.Time
}

func New(products ...orders.Product) *Store {
	s := &Store{
		products: make(map[string]record, len(products)),
		orders:   make(map[string]orders.Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, p := range products {
		s.products[p.ID] = record{p: p, version: 1}
	}
	return s
}

// PutProduct inserts or replaces a product, as catalog management would.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = record{p: p, version: s.products[p.ID].version + 1}
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return orders.Product{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return r.p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]orders.Product, 0, len(s.products))
	for _, r := range s.products {
		out = append(out, r.p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return orders.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return cloneOrder(o), nil
}

// CountOrders is the number of committed orders.
func (s *Store) CountOrders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if o.Status != from {
		return fmt.Errorf("%w: order %s is %s, not %s", orders.ErrWriteConflict, id, o.Status, from)
	}
	o.Status = to
	s.orders[id] = o
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		s:       s,
		read:    make(map[string]uint64),
		written: make(map[string]orders.Product),
	}, nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	return o
}
