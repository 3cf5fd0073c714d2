package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store. Stock is protected twice: the product row is locked
// FOR UPDATE when read, and the decrement itself is conditional on enough stock.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const productColumns = `id, farmer_id, name, price::text, discount::text, available_quantity, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &pgTx{tx: tx}, nil
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(ctx, r.DB, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := productFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	var (
		o                 Order
		addr, pay         []byte
		total, statusText string
	)
	err = r.DB.QueryRow(ctx, `
		SELECT id::text, consumer_id, ordered_at, address, payment, total_amount::text, status
		FROM orders WHERE id=$1`, oid).
		Scan(&o.ID, &o.ConsumerID, &o.OrderedAt, &addr, &pay, &total, &statusText)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return Order{}, fmt.Errorf("decode address: %w", err)
	}
	if err := json.Unmarshal(pay, &o.Payment); err != nil {
		return Order{}, fmt.Errorf("decode payment: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, err
	}
	o.Status = Status(statusText)

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, farmer_id, quantity, unit_price::text, line_total::text
		FROM order_items WHERE order_id=$1 ORDER BY line_no`, oid)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it         LineItem
			unit, line string
		)
		if err := rows.Scan(&it.ProductID, &it.FarmerID, &it.Quantity, &unit, &line); err != nil {
			return Order{}, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return Order{}, err
		}
		if it.LineTotal, err = decimal.NewFromString(line); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) UpdateOrderStatus(ctx context.Context, id string, from, to Status) error {
	oid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2`, oid, string(from), string(to))
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, oid).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return fmt.Errorf("%w: order %s is no longer %s", ErrWriteConflict, id, from)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(ctx, t.tx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id)
	return p, mapPgErr(err)
}

func (t *pgTx) ReserveStock(ctx context.Context, id string, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET available_quantity = available_quantity - $2, updated_at = now()
		WHERE id=$1 AND available_quantity >= $2`, id, qty)
	if err != nil {
		return mapPgErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: stock of %s changed during reservation", ErrWriteConflict, id)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	oid, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("order id %q: %w", o.ID, err)
	}
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return err
	}
	pay, err := json.Marshal(o.Payment)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, consumer_id, ordered_at, address, payment, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)`,
		oid, o.ConsumerID, o.OrderedAt, addr, pay, o.TotalAmount.String(), string(o.Status),
	); err != nil {
		return mapPgErr(err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items(order_id, line_no, product_id, farmer_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			oid, i+1, it.ProductID, it.FarmerID, it.Quantity, it.UnitPrice.String(), it.LineTotal.String())
	}
	return mapPgErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) Commit(ctx context.Context) error {
	return mapPgErr(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanProduct(ctx context.Context, q querier, sql, id string) (Product, error) {
	p, err := productFromRow(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, err
}

func productFromRow(row pgx.Row) (Product, error) {
	var (
		p               Product
		price, discount string
	)
	if err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &price, &discount, &p.AvailableQuantity, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	if p.Discount, err = decimal.NewFromString(discount); err != nil {
		return Product{}, fmt.Errorf("product %s discount: %w", p.ID, err)
	}
	return p, nil
}

// Serialization failures and deadlocks abort the transaction; a fresh attempt may succeed.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrWriteConflict, pgErr.Message)
		}
	}
	return err
}
