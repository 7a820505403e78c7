package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT id, customer_id, updated_at FROM carts WHERE customer_id = $1`

	getCartItemsSQL = `SELECT id, product_id, COALESCE(variant_id, 0), variant_sku, variant_label, quantity, unit_price
		FROM cart_items WHERE cart_id = $1 ORDER BY id`

	emptyCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	// Lines added after pricing are not part of the order and stay.
	consumeCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = ANY($2)`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ByCustomer returns the customer's cart with its lines in insertion order.
func (r *CartRepository) ByCustomer(ctx context.Context, customerID int64) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getCartSQL, customerID).Scan(&c.ID, &c.CustomerID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart of customer %d", customerID)
	}

	rows, err := r.pool.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of cart %d", c.ID)
	}
	c.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.VariantSKU, &l.VariantLabel, &l.Quantity, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of cart %d", c.ID)
	}
	return &c, nil
}

// consumeCartLines removes the ordered lines from a cart inside an order
// transaction.
func consumeCartLines(ctx context.Context, tx pgx.Tx, cartID int64, lineIDs []int64) error {
	if len(lineIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, consumeCartItemsSQL, cartID, lineIDs); err != nil {
		return errors.Wrapf(err, "consume lines of cart %d", cartID)
	}
	if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
		return errors.Wrapf(err, "touch cart %d", cartID)
	}
	return nil
}
