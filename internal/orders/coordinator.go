package orders

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const rollbackTimeout = 2 * time.Second

type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseBackoff: 20 * time.Millisecond,
	MaxBackoff:  250 * time.Millisecond,
}

// Observer receives placement outcomes, e.g. for metrics. kind is empty on success.
type Observer interface {
	OrderPlaced(kind ErrorKind, attempts int, elapsed time.Duration)
	AttemptRetried(kind ErrorKind)
}

type nopObserver struct{}

func (nopObserver) OrderPlaced(ErrorKind, int, time.Duration) {}
func (nopObserver) AttemptRetried(ErrorKind)                  {}

// Coordinator places orders: it validates the cart, reserves stock for every line and
// writes the order in one transaction, retrying the whole attempt on write conflicts.
type Coordinator struct {
	store   Store
	timeout time.Duration
	retry   RetryPolicy
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
	obs     Observer
}

type Option func(*Coordinator)

func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

func WithRetryPolicy(p RetryPolicy) Option { return func(c *Coordinator) { c.retry = p } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithIDGenerator(f func() string) Option { return func(c *Coordinator) { c.newID = f } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithObserver(o Observer) Option { return func(c *Coordinator) { c.obs = o } }

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		timeout: 5 * time.Second,
		retry:   DefaultRetryPolicy,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		log:     slog.Default(),
		obs:     nopObserver{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// PlaceOrder converts req into a committed pending Order, or changes nothing.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		c.obs.OrderPlaced(KindValidation, 0, time.Since(start))
		return Order{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		lastErr  error
		attempts int
	)
	for attempts = 1; attempts <= c.retry.MaxAttempts; attempts++ {
		o, err := c.attempt(ctx, req)
		if err == nil {
			c.obs.OrderPlaced("", attempts, time.Since(start))
			c.log.Debug("order placed", "order_id", o.ID, "consumer_id", o.ConsumerID,
				"items", len(o.Items), "total", o.TotalAmount.String(), "attempts", attempts)
			return o, nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
		if ctx.Err() != nil {
			lastErr = persistence("order placement aborted", ctx.Err())
			break
		}
		if attempts == c.retry.MaxAttempts {
			break
		}
		c.log.Warn("order attempt failed, retrying",
			"consumer_id", req.ConsumerID, "attempt", attempts, "kind", KindOf(err), "error", err)
		c.obs.AttemptRetried(KindOf(err))
		if err := c.backoff(ctx, attempts); err != nil {
			lastErr = persistence("order placement aborted", err)
			break
		}
	}

	kind := KindOf(lastErr)
	if kind == KindPersistence || kind == KindTransactionConflict {
		c.log.Error("order placement failed",
			"consumer_id", req.ConsumerID, "items", len(req.Items), "attempts", attempts,
			"kind", kind, "error", lastErr)
	}
	c.obs.OrderPlaced(kind, attempts, time.Since(start))
	return Order{}, lastErr
}

// attempt runs one transaction. The deferred rollback is a no-op after a successful commit.
func (c *Coordinator) attempt(ctx context.Context, req PlaceOrderRequest) (Order, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return Order{}, classify("begin transaction", err)
	}
	defer c.rollback(ctx, tx)

	total := decimal.Zero
	lines := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, err := tx.GetProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			return Order{}, productNotFound(it.ProductID)
		}
		if err != nil {
			return Order{}, classify("read product "+it.ProductID, err)
		}
		if p.AvailableQuantity < it.Quantity {
			return Order{}, insufficientStock(p.ID, it.Quantity, p.AvailableQuantity)
		}
		unit, lineTotal, err := pricing.ComputeLine(p.Price, p.Discount, it.Quantity)
		if err != nil {
			return Order{}, validationf("product %s: %v", p.ID, err)
		}
		lines = append(lines, LineItem{
			ProductID: p.ID,
			FarmerID:  p.FarmerID,
			Quantity:  it.Quantity,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)

		if err := tx.ReserveStock(ctx, p.ID, it.Quantity); errors.Is(err, ErrProductNotFound) {
			return Order{}, productNotFound(p.ID)
		} else if err != nil {
			return Order{}, classify("reserve stock "+p.ID, err)
		}
	}

	o := Order{
		ID:         c.newID(),
		ConsumerID: req.ConsumerID,
		OrderedAt:  c.now(),
		Items:      lines,
		Address:    req.Address,
		Payment: Payment{
			Method:         req.Payment.Method,
			TransactionRef: req.Payment.TransactionRef,
			Amount:         total,
		},
		TotalAmount: total,
		Status:      StatusPending,
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		return Order{}, classify("insert order", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, classify("commit", err)
	}
	return o, nil
}

// rollback must run even when ctx is already done, otherwise locks stay held.
func (c *Coordinator) rollback(ctx context.Context, tx Tx) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(rctx); err != nil {
		c.log.Warn("rollback failed", "error", err)
	}
}

// backoff sleeps a jittered exponential delay, returning early if ctx ends.
func (c *Coordinator) backoff(ctx context.Context, attempt int) error {
	d := c.retry.BaseBackoff << (attempt - 1)
	if c.retry.MaxBackoff > 0 && (d > c.retry.MaxBackoff || d <= 0) {
		d = c.retry.MaxBackoff
	}
	if d <= 0 {
		return ctx.Err()
	}
	d = d/2 + rand.N(d/2+1)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classify(op string, err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrWriteConflict):
		return conflict(err)
	default:
		return persistence(op, err)
	}
}

func (c *Coordinator) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := c.store.GetOrder(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, orderNotFound(id)
	}
	if err != nil {
		return Order{}, persistence("get order "+id, err)
	}
	return o, nil
}

// AdvanceStatus applies one legal status transition with a compare-and-set on the
// current status. Placement never calls it.
func (c *Coordinator) AdvanceStatus(ctx context.Context, id string, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, validationf("unknown status %q", to)
	}
	o, err := c.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		return Order{}, validationf("cannot move order from %s to %s", o.Status, to)
	}
	if err := c.store.UpdateOrderStatus(ctx, id, o.Status, to); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Order{}, orderNotFound(id)
		}
		return Order{}, classify("update order status", err)
	}
	o.Status = to
	return o, nil
}
