package orders_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/memstore"
	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func product(id, farmer, price, discount string, qty int) orders.Product {
	return orders.Product{
		ID:                id,
		FarmerID:          farmer,
		Name:              id,
		Price:             decimal.RequireFromString(price),
		Discount:          decimal.RequireFromString(discount),
		AvailableQuantity: qty,
	}
}

func cart(items ...orders.ItemRequest) orders.PlaceOrderRequest {
	return orders.PlaceOrderRequest{
		ConsumerID: "c-1",
		Items:      items,
		Address:    orders.Address{Street: "4 Market Lane", City: "Nashik", State: "MH", Pincode: "422001"},
		Payment:    orders.PaymentRequest{Method: orders.PaymentCOD},
	}
}

func item(id string, qty int) orders.ItemRequest {
	return orders.ItemRequest{ProductID: id, Quantity: qty}
}

func quiet() orders.Option {
	return orders.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastRetry(attempts int) orders.Option {
	return orders.WithRetryPolicy(orders.RetryPolicy{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})
}

func stockOf(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.AvailableQuantity
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// faultStore wraps a Store, counting transactions and failing commits on demand.
type faultStore struct {
	orders.Store

	mu         sync.Mutex
	commitErrs []error
	getDelay   time.Duration
	begins     int
	rollbacks  int
}

func (f *faultStore) BeginTx(ctx context.Context) (orders.Tx, error) {
	tx, err := f.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return &faultTx{Tx: tx, f: f}, nil
}

func (f *faultStore) counts() (begins, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.rollbacks
}

type faultTx struct {
	orders.Tx
	f *faultStore
}

func (t *faultTx) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	if d := t.f.getDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return orders.Product{}, ctx.Err()
		}
	}
	return t.Tx.GetProduct(ctx, id)
}

func (t *faultTx) Commit(ctx context.Context) error {
	t.f.mu.Lock()
	var err error
	if len(t.f.commitErrs) > 0 {
		err, t.f.commitErrs = t.f.commitErrs[0], t.f.commitErrs[1:]
	}
	t.f.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Tx.Commit(ctx)
}

func (t *faultTx) Rollback(ctx context.Context) error {
	t.f.mu.Lock()
	t.f.rollbacks++
	t.f.mu.Unlock()
	return t.Tx.Rollback(ctx)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []orders.ErrorKind
	attempts []int
	retries  []orders.ErrorKind
}

func (r *recordingObserver) OrderPlaced(kind orders.ErrorKind, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind)
	r.attempts = append(r.attempts, attempts)
}

func (r *recordingObserver) AttemptRetried(kind orders.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, kind)
}

func TestPlaceOrder_SingleLine(t *testing.T) {
	store := memstore.New(product("onion", "f-1", "100", "10", 5))
	c := orders.NewCoordinator(store, quiet())

	o, err := c.PlaceOrder(context.Background(), cart(item("onion", 2)))
	require.NoError(t, err)

	require.Len(t, o.Items, 1)
	line := o.Items[0]
	assert.Equal(t, "onion", line.ProductID)
	assert.Equal(t, "f-1", line.FarmerID)
	assert.Equal(t, 2, line.Quantity)
	assertDecimal(t, "90", line.UnitPrice)
	assertDecimal(t, "180", line.LineTotal)
	assertDecimal(t, "180", o.TotalAmount)
	assertDecimal(t, "180", o.Payment.Amount)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "c-1", o.ConsumerID)
	assert.NotEmpty(t, o.ID)

	assert.Equal(t, 3, stockOf(t, store, "onion"))
	stored, err := c.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
	assertDecimal(t, "180", stored.TotalAmount)
}

func TestPlaceOrder_MultiLineTotalIsExactSum(t *testing.T) {
	store := memstore.New(
		product("rice", "f-1", "33.33", "12.5", 10),
		product("wheat", "f-2", "49.99", "0", 10),
		product("ghee", "f-1", "10", "100", 10),
	)
	c := orders.NewCoordinator(store, quiet())

	o, err := c.PlaceOrder(context.Background(), cart(item("rice", 3), item("wheat", 2), item("ghee", 1)))
	require.NoError(t, err)

	require.Len(t, o.Items, 3)
	assertDecimal(t, "87.49125", o.Items[0].LineTotal)
	assertDecimal(t, "99.98", o.Items[1].LineTotal)
	assertDecimal(t, "0", o.Items[2].LineTotal)
	assertDecimal(t, "187.47125", o.TotalAmount)

	assert.Equal(t, []string{"rice", "wheat", "ghee"},
		[]string{o.Items[0].ProductID, o.Items[1].ProductID, o.Items[2].ProductID}, "cart order is kept")
	assert.Equal(t, 7, stockOf(t, store, "rice"))
	assert.Equal(t, 8, stockOf(t, store, "wheat"))
	assert.Equal(t, 9, stockOf(t, store, "ghee"))
}

func TestPlaceOrder_InsufficientStockChangesNothing(t *testing.T) {
	store := memstore.New(
		product("p1", "f-1", "20", "0", 10),
		product("p2", "f-2", "15", "0", 5),
	)
	fs := &faultStore{Store: store}
	c := orders.NewCoordinator(fs, quiet())

	_, err := c.PlaceOrder(context.Background(), cart(item("p1", 1), item("p2", 100)))
	require.Error(t, err)

	var oe *orders.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orders.KindInsufficientStock, oe.Kind)
	assert.Equal(t, "p2", oe.ProductID)
	assert.Equal(t, 100, oe.Requested)
	assert.Equal(t, 5, oe.Available)
	assert.False(t, orders.IsRetryable(err))

	assert.Equal(t, 10, stockOf(t, store, "p1"))
	assert.Equal(t, 5, stockOf(t, store, "p2"))
	assert.Equal(t, 0, store.CountOrders())

	begins, rollbacks := fs.counts()
	assert.Equal(t, 1, begins, "business errors are not retried")
	assert.Equal(t, 1, rollbacks)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	store := memstore.New(product("p1", "f-1", "20", "0", 10))
	fs := &faultStore{Store: store}
	c := orders.NewCoordinator(fs, quiet())

	_, err := c.PlaceOrder(context.Background(), cart(item("p1", 2), item("ghost", 1)))
	assert.Equal(t, orders.KindProductNotFound, orders.KindOf(err))
	assert.ErrorIs(t, err, orders.ErrProductNotFound)
	assert.ErrorContains(t, err, "ghost")

	assert.Equal(t, 10, stockOf(t, store, "p1"))
	assert.Equal(t, 0, store.CountOrders())
	begins, rollbacks := fs.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, rollbacks)
}

func TestPlaceOrder_ValidationNeverTouchesStore(t *testing.T) {
	fs := &faultStore{Store: memstore.New(product("p1", "f-1", "20", "0", 10))}
	c := orders.NewCoordinator(fs, quiet())

	bad := []orders.PlaceOrderRequest{
		cart(),
		cart(item("p1", 0)),
		func() orders.PlaceOrderRequest { r := cart(item("p1", 1)); r.ConsumerID = ""; return r }(),
		func() orders.PlaceOrderRequest { r := cart(item("p1", 1)); r.Address.Street = ""; return r }(),
		func() orders.PlaceOrderRequest { r := cart(item("p1", 1)); r.Payment.Method = "card"; return r }(),
	}
	for i, req := range bad {
		_, err := c.PlaceOrder(context.Background(), req)
		assert.Equal(t, orders.KindValidation, orders.KindOf(err), "case %d", i)
	}
	begins, _ := fs.counts()
	assert.Zero(t, begins)
}

func TestPlaceOrder_RepeatedProductSeesOwnReservation(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "0", 5))
	c := orders.NewCoordinator(store, quiet())

	_, err := c.PlaceOrder(context.Background(), cart(item("p", 3), item("p", 3)))
	var oe *orders.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orders.KindInsufficientStock, oe.Kind)
	assert.Equal(t, 3, oe.Requested)
	assert.Equal(t, 2, oe.Available)
	assert.Equal(t, 5, stockOf(t, store, "p"))

	o, err := c.PlaceOrder(context.Background(), cart(item("p", 2), item("p", 2)))
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assertDecimal(t, "40", o.TotalAmount)
	assert.Equal(t, 1, stockOf(t, store, "p"))
}

func TestPlaceOrder_InvalidStoredPricing(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "150", 5))
	c := orders.NewCoordinator(store, quiet())

	_, err := c.PlaceOrder(context.Background(), cart(item("p", 1)))
	assert.Equal(t, orders.KindValidation, orders.KindOf(err))
	assert.ErrorContains(t, err, "product p")
	assert.Equal(t, 5, stockOf(t, store, "p"))
}

func TestPlaceOrder_ConcurrentCartsNeverOversell(t *testing.T) {
	store := memstore.New(product("mango", "f-1", "50", "0", 5))
	c := orders.NewCoordinator(store, quiet(), fastRetry(3))

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = c.PlaceOrder(context.Background(), cart(item("mango", 3)))
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var oe *orders.Error
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, orders.KindInsufficientStock, oe.Kind)
		assert.Equal(t, 2, oe.Available)
		short++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 2, stockOf(t, store, "mango"))
	assert.Equal(t, 1, store.CountOrders())
}

func TestPlaceOrder_StockAccountingUnderContention(t *testing.T) {
	const initial = 30
	store := memstore.New(
		product("a", "f-1", "5", "0", initial),
		product("b", "f-2", "7", "0", initial),
	)
	c := orders.NewCoordinator(store, quiet(), fastRetry(8))

	var (
		mu     sync.Mutex
		placed []orders.Order
		wg     sync.WaitGroup
	)
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := c.PlaceOrder(context.Background(), cart(item("a", 1+i%2), item("b", 1)))
			if err != nil {
				k := orders.KindOf(err)
				assert.Contains(t, []orders.ErrorKind{orders.KindInsufficientStock, orders.KindTransactionConflict}, k)
				return
			}
			mu.Lock()
			placed = append(placed, o)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sold := map[string]int{}
	for _, o := range placed {
		for _, it := range o.Items {
			sold[it.ProductID] += it.Quantity
		}
	}
	a, b := stockOf(t, store, "a"), stockOf(t, store, "b")
	assert.GreaterOrEqual(t, a, 0)
	assert.GreaterOrEqual(t, b, 0)
	assert.Equal(t, initial-sold["a"], a)
	assert.Equal(t, initial-sold["b"], b)
	assert.Equal(t, len(placed), store.CountOrders())
	assert.NotEmpty(t, placed)
}

func TestPlaceOrder_RetriesWriteConflict(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "0", 5))
	fs := &faultStore{Store: store, commitErrs: []error{fmt.Errorf("%w: injected", orders.ErrWriteConflict)}}
	obs := &recordingObserver{}
	c := orders.NewCoordinator(fs, quiet(), fastRetry(3), orders.WithObserver(obs))

	o, err := c.PlaceOrder(context.Background(), cart(item("p", 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, stockOf(t, store, "p"))
	assert.Equal(t, 1, store.CountOrders())

	stored, err := store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)

	begins, rollbacks := fs.counts()
	assert.Equal(t, 2, begins)
	assert.Equal(t, 2, rollbacks, "every attempt is rolled back or committed")
	assert.Equal(t, []orders.ErrorKind{orders.KindTransactionConflict}, obs.retries)
	assert.Equal(t, []orders.ErrorKind{""}, obs.outcomes)
	assert.Equal(t, []int{2}, obs.attempts)
}

func TestPlaceOrder_ConflictRetriesExhausted(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "0", 5))
	fs := &faultStore{Store: store, commitErrs: []error{
		orders.ErrWriteConflict, orders.ErrWriteConflict, orders.ErrWriteConflict,
	}}
	obs := &recordingObserver{}
	c := orders.NewCoordinator(fs, quiet(), fastRetry(3), orders.WithObserver(obs))

	_, err := c.PlaceOrder(context.Background(), cart(item("p", 2)))
	assert.Equal(t, orders.KindTransactionConflict, orders.KindOf(err))
	assert.True(t, orders.IsRetryable(err))
	assert.ErrorIs(t, err, orders.ErrWriteConflict)

	assert.Equal(t, 5, stockOf(t, store, "p"))
	assert.Zero(t, store.CountOrders())
	begins, rollbacks := fs.counts()
	assert.Equal(t, 3, begins)
	assert.Equal(t, 3, rollbacks)
	assert.Len(t, obs.retries, 2)
	assert.Equal(t, []orders.ErrorKind{orders.KindTransactionConflict}, obs.outcomes)
}

func TestPlaceOrder_PersistenceFailure(t *testing.T) {
	reset := errors.New("connection reset")

	t.Run("recovers", func(t *testing.T) {
		store := memstore.New(product("p", "f-1", "10", "0", 5))
		fs := &faultStore{Store: store, commitErrs: []error{reset}}
		c := orders.NewCoordinator(fs, quiet(), fastRetry(3))

		_, err := c.PlaceOrder(context.Background(), cart(item("p", 1)))
		require.NoError(t, err)
		assert.Equal(t, 4, stockOf(t, store, "p"))
	})

	t.Run("surfaces", func(t *testing.T) {
		store := memstore.New(product("p", "f-1", "10", "0", 5))
		fs := &faultStore{Store: store, commitErrs: []error{reset, reset, reset}}
		c := orders.NewCoordinator(fs, quiet(), fastRetry(3))

		_, err := c.PlaceOrder(context.Background(), cart(item("p", 1)))
		assert.Equal(t, orders.KindPersistence, orders.KindOf(err))
		assert.False(t, orders.IsRetryable(err))
		assert.ErrorIs(t, err, reset)
		assert.Equal(t, 5, stockOf(t, store, "p"))
		assert.Zero(t, store.CountOrders())
	})
}

func TestPlaceOrder_TimeoutAborts(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "0", 5))
	fs := &faultStore{Store: store, getDelay: time.Second}
	c := orders.NewCoordinator(fs, quiet(), orders.WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.PlaceOrder(context.Background(), cart(item("p", 1)))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, orders.KindPersistence, orders.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "aborted")

	begins, rollbacks := fs.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 5, stockOf(t, store, "p"))
}

func TestPlaceOrder_CallerCancelled(t *testing.T) {
	store := memstore.New(product("p", "f-1", "10", "0", 5))
	c := orders.NewCoordinator(store, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.PlaceOrder(ctx, cart(item("p", 1)))
	assert.Equal(t, orders.KindPersistence, orders.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, stockOf(t, store, "p"))
}

func TestPlaceOrder_InjectedClockAndIDs(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	n := 0
	c := orders.NewCoordinator(memstore.New(product("p", "f-1", "10", "0", 5)), quiet(),
		orders.WithClock(func() time.Time { return at }),
		orders.WithIDGenerator(func() string { n++; return fmt.Sprintf("ord-%d", n) }),
	)

	o, err := c.PlaceOrder(context.Background(), cart(item("p", 1)))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, at, o.OrderedAt)

	o, err = c.PlaceOrder(context.Background(), cart(item("p", 1)))
	require.NoError(t, err)
	assert.Equal(t, "ord-2", o.ID)
}

func TestAdvanceStatus(t *testing.T) {
	c := orders.NewCoordinator(memstore.New(product("p", "f-1", "10", "0", 5)), quiet())
	ctx := context.Background()
	o, err := c.PlaceOrder(ctx, cart(item("p", 1)))
	require.NoError(t, err)

	got, err := c.AdvanceStatus(ctx, o.ID, orders.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)

	_, err = c.AdvanceStatus(ctx, o.ID, orders.StatusCancelled)
	assert.Equal(t, orders.KindValidation, orders.KindOf(err))

	_, err = c.AdvanceStatus(ctx, o.ID, orders.Status("lost"))
	assert.Equal(t, orders.KindValidation, orders.KindOf(err))

	got, err = c.AdvanceStatus(ctx, o.ID, orders.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, got.Status)

	stored, err := c.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, stored.Status)

	_, err = c.AdvanceStatus(ctx, "missing", orders.StatusProcessing)
	assert.Equal(t, orders.KindOrderNotFound, orders.KindOf(err))
	_, err = c.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}
