package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

	createOrderSQL = `INSERT INTO orders (number, customer_id, customer_email, customer_name, status,
			lines, shipping_address, billing_address, payment_method, summary,
			coupon_code, discount_kind, discount_amount, grand_total, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	orderColumns = `id, number, customer_id, customer_email, customer_name, status,
		lines, shipping_address, billing_address, payment_method, summary,
		COALESCE(coupon_code, ''), COALESCE(discount_kind, ''), discount_amount, grand_total,
		COALESCE(idempotency_key, ''), created_at, updated_at`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + `
		FROM orders WHERE customer_id = $1 AND idempotency_key = $2`

	// The payment method document is enveloped; legacy rows are bare.
	paymentKeyExpr = `COALESCE(payment_method->'data'->>'key', payment_method->>'key', '')`

	// Zero filter arguments disable their predicate.
	listOrdersSQL = `SELECT number, customer_id, customer_email, status, ` + paymentKeyExpr + `,
			grand_total, COALESCE(coupon_code, ''), created_at
		FROM orders
		WHERE ($1::BIGINT = 0 OR customer_id = $1)
			AND ($2::TEXT = '' OR status = $2)
			AND ($3::TEXT = '' OR ` + paymentKeyExpr + ` = $3)
			AND ($4::TEXT = '' OR strpos(lower(number), lower($4)) > 0
				OR strpos(lower(customer_email), lower($4)) > 0)
			AND ($5::TIMESTAMPTZ IS NULL OR created_at >= $5)
			AND ($6::TIMESTAMPTZ IS NULL OR created_at < $6)
		ORDER BY created_at DESC, id DESC
		LIMIT $7`
)

const (
	constraintOrderNumber    = "orders_number_key"
	constraintIdempotencyKey = "orders_idempotency_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// frozen documents are stored as versioned JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextNumber allocates an order number from order_number_seq.
func (r *OrderRepository) NextNumber(ctx context.Context) (string, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, nextOrderNumberSQL).Scan(&n); err != nil {
		return "", errors.Wrap(err, "next order number")
	}
	return fmt.Sprintf("ORD-%d", n), nil
}

type orderDocuments struct {
	lines, shipping, billing, payment, summary []byte
}

func encodeDocuments(o *order.Order) (docs orderDocuments, err error) {
	if docs.lines, err = order.EncodeDocument(o.Lines); err != nil {
		return docs, errors.Wrap(err, "encode lines")
	}
	if docs.shipping, err = order.EncodeDocument(o.ShippingAddress); err != nil {
		return docs, errors.Wrap(err, "encode shipping address")
	}
	if docs.billing, err = order.EncodeDocument(o.BillingAddress); err != nil {
		return docs, errors.Wrap(err, "encode billing address")
	}
	if docs.payment, err = order.EncodeDocument(o.PaymentMethod); err != nil {
		return docs, errors.Wrap(err, "encode payment method")
	}
	if docs.summary, err = order.EncodeDocument(o.Summary); err != nil {
		return docs, errors.Wrap(err, "encode summary")
	}
	return docs, nil
}

// Create inserts o and removes the cart lines it was priced from in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, cartID int64) error {
	docs, err := encodeDocuments(o)
	if err != nil {
		return err
	}

	_, err = withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		err := tx.QueryRow(ctx, createOrderSQL,
			o.Number, o.CustomerID, o.CustomerEmail, o.CustomerName, string(o.Status),
			docs.lines, docs.shipping, docs.billing, docs.payment, docs.summary,
			nullString(o.CouponCode), nullString(o.DiscountKind), o.DiscountAmount, o.GrandTotal,
			nullString(o.IdempotencyKey),
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return struct{}{}, err
		}
		if cartID != 0 {
			if err := consumeCartLines(ctx, tx, cartID, o.CartLineIDs()); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err == nil {
		return nil
	}

	switch constraint, ok := uniqueViolation(err); {
	case ok && constraint == constraintOrderNumber:
		return errors.Wrapf(order.ErrNumberConflict, "order %q", o.Number)
	case ok && constraint == constraintIdempotencyKey:
		return errors.Wrapf(order.ErrDuplicateIdempotencyKey, "key %q", o.IdempotencyKey)
	}
	return errors.Wrapf(err, "create order %q", o.Number)
}

// ByNumber returns the frozen order.
func (r *OrderRepository) ByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

// ByIdempotencyKey returns the order the customer placed with key.
func (r *OrderRepository) ByIdempotencyKey(ctx context.Context, customerID int64, key string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIdempotencyKeySQL, customerID, key)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// List returns order headers matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Header, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL,
		f.CustomerID, string(f.Status), payment.NormalizeKey(f.PaymentMethod), strings.TrimSpace(f.Search),
		nullTime(f.From), nullTime(f.To), f.Limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Header, error) {
		var (
			h      order.Header
			status string
		)
		err := row.Scan(&h.Number, &h.CustomerID, &h.CustomerEmail, &status, &h.PaymentMethod,
			&h.GrandTotal, &h.CouponCode, &h.CreatedAt)
		h.Status = order.Status(status)
		return h, err
	})
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		status string
		docs   orderDocuments
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.CustomerEmail, &o.CustomerName, &status,
		&docs.lines, &docs.shipping, &docs.billing, &docs.payment, &docs.summary,
		&o.CouponCode, &o.DiscountKind, &o.DiscountAmount, &o.GrandTotal,
		&o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)

	if o.Lines, err = order.DecodeDocument[[]order.Line](docs.lines); err != nil {
		return nil, errors.Wrapf(err, "decode lines of %q", o.Number)
	}
	if o.ShippingAddress, err = order.DecodeDocument[customer.Address](docs.shipping); err != nil {
		return nil, errors.Wrapf(err, "decode shipping address of %q", o.Number)
	}
	if o.BillingAddress, err = order.DecodeDocument[customer.Address](docs.billing); err != nil {
		return nil, errors.Wrapf(err, "decode billing address of %q", o.Number)
	}
	if o.PaymentMethod, err = order.DecodeDocument[payment.Method](docs.payment); err != nil {
		return nil, errors.Wrapf(err, "decode payment method of %q", o.Number)
	}
	if o.Summary, err = order.DecodeDocument[order.Summary](docs.summary); err != nil {
		return nil, errors.Wrapf(err, "decode summary of %q", o.Number)
	}
	return &o, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
