package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

// TxRepository exposes transactional operations used by service. The
// embedded ledger lets stock reconciliation share the order transaction.
type TxRepository interface {
	stock.Ledger
	GetOrderForUpdate(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order) error
}

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	catalog.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: catalog.NewTxRepository(tx), tx: tx})
	})
}

const orderColumns = `id, number, terminal_id, status, customer_id, notes, discount_kind, discount_value,
	tax_enabled, tax_rate, tax_timing, subtotal, discount_amount, tax_amount, included_tax, total,
	payment_method, tendered, change_due, payment_ref, created_at, updated_at, paid_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

// ListOrders lists orders matching filter, newest first, without lines.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		clauses = []string{"deleted_at IS NULL"}
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TerminalID != "" {
		args = append(args, filter.TerminalID)
		clauses = append(clauses, fmt.Sprintf("terminal_id = $%d", len(args)))
	}
	args = append(args, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		orderColumns, strings.Join(clauses, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	return getOrder(ctx, r.tx, id, true)
}

func (r *txRepo) InsertOrder(ctx context.Context, o Order) error {
	method, tendered, change, ref := paymentColumns(o.Payment)
	_, err := r.tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		o.ID, o.Number, o.TerminalID, string(o.Status), o.CustomerID, o.Notes,
		string(o.Discount.Kind), o.Discount.Value, o.Tax.Enabled, o.Tax.Rate, string(o.Tax.Timing),
		o.Totals.Subtotal, o.Totals.DiscountAmount, o.Totals.TaxAmount, o.Totals.IncludedTax, o.Totals.Total,
		method, tendered, change, ref, o.CreatedAt, o.UpdatedAt, o.PaidAt)
	if err != nil {
		return err
	}
	return r.insertLines(ctx, o)
}

func (r *txRepo) UpdateOrder(ctx context.Context, o Order) error {
	method, tendered, change, ref := paymentColumns(o.Payment)
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET status = $2, customer_id = $3, notes = $4,
	discount_kind = $5, discount_value = $6, tax_enabled = $7, tax_rate = $8, tax_timing = $9,
	subtotal = $10, discount_amount = $11, tax_amount = $12, included_tax = $13, total = $14,
	payment_method = $15, tendered = $16, change_due = $17, payment_ref = $18, updated_at = $19, paid_at = $20
WHERE id = $1 AND status <> 'paid'`,
		o.ID, string(o.Status), o.CustomerID, o.Notes,
		string(o.Discount.Kind), o.Discount.Value, o.Tax.Enabled, o.Tax.Rate, string(o.Tax.Timing),
		o.Totals.Subtotal, o.Totals.DiscountAmount, o.Totals.TaxAmount, o.Totals.IncludedTax, o.Totals.Total,
		method, tendered, change, ref, o.UpdatedAt, o.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderPaid
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, o.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, o)
}

func (r *txRepo) insertLines(ctx context.Context, o Order) error {
	batch := &pgx.Batch{}
	for i, line := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, position, product_id, name, unit_price, quantity, locked, locked_quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, o.ID, i, line.ProductID, line.Name, line.UnitPrice, line.Quantity, line.Locked, line.LockedQuantity)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND deleted_at IS NULL`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("orders: order %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT product_id, name, unit_price, quantity, locked, locked_quantity
FROM order_lines WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line cart.Line
		if err := rows.Scan(&line.ProductID, &line.Name, &line.UnitPrice, &line.Quantity, &line.Locked, &line.LockedQuantity); err != nil {
			return Order{}, err
		}
		order.Lines = append(order.Lines, line)
	}
	return order, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                      Order
		status, discountKind   string
		taxTiming, method, ref string
		discountValue, taxRate decimal.Decimal
		tendered, change       int64
	)
	err := row.Scan(&o.ID, &o.Number, &o.TerminalID, &status, &o.CustomerID, &o.Notes, &discountKind, &discountValue,
		&o.Tax.Enabled, &taxRate, &taxTiming, &o.Totals.Subtotal, &o.Totals.DiscountAmount, &o.Totals.TaxAmount,
		&o.Totals.IncludedTax, &o.Totals.Total, &method, &tendered, &change, &ref, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Discount = pricing.Discount{Kind: pricing.DiscountKind(discountKind), Value: discountValue}
	o.Tax.Rate = taxRate
	o.Tax.Timing = pricing.TaxTiming(taxTiming)
	if method != "" {
		o.Payment = &Payment{Method: PaymentMethod(method), Tendered: tendered, Change: change, Reference: ref}
	}
	return o, nil
}

func paymentColumns(p *Payment) (string, int64, int64, string) {
	if p == nil {
		return "", 0, 0, ""
	}
	return string(p.Method), p.Tendered, p.Change, p.Reference
}
