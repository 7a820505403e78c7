package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const couponColumns = `id, name, code, type, short_description, long_description,
		discount_kind, discount_value, minimum_cart_value, starts_at, ends_at, status,
		apply_to_all_new_users, product_ids, category_ids, user_ids`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE upper(code) = upper($1)`

	listEnabledCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE status = 'ENABLED' ORDER BY ends_at, id`

	upsertCouponSQL = `INSERT INTO coupons (name, code, type, short_description, long_description,
		discount_kind, discount_value, minimum_cart_value, starts_at, ends_at, status,
		apply_to_all_new_users, product_ids, category_ids, user_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT ((upper(code))) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			short_description = EXCLUDED.short_description,
			long_description = EXCLUDED.long_description,
			discount_kind = EXCLUDED.discount_kind,
			discount_value = EXCLUDED.discount_value,
			minimum_cart_value = EXCLUDED.minimum_cart_value,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			status = EXCLUDED.status,
			apply_to_all_new_users = EXCLUDED.apply_to_all_new_users,
			product_ids = EXCLUDED.product_ids,
			category_ids = EXCLUDED.category_ids,
			user_ids = EXCLUDED.user_ids`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by code, case-insensitively. Disabled coupons
// are returned too so evaluation can say why they do not apply.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// ListEnabled returns every enabled coupon regardless of its window.
func (r *CouponRepository) ListEnabled(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listEnabledCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list enabled coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Upsert inserts or replaces coupons by code in one batch round trip.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	return upsertCoupons(ctx, r.pool, coupons)
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func upsertCoupons(ctx context.Context, q batchSender, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			c.Name, coupon.NormalizeCode(c.Code), string(c.Type), c.ShortDescription, c.LongDescription,
			string(c.DiscountKind), c.DiscountValue, c.MinimumCartValue, c.StartsAt, c.EndsAt, string(c.Status),
			c.Scope.AllNewUsers, nonNil(c.Scope.ProductIDs), nonNil(c.Scope.CategoryIDs), nonNil(c.Scope.UserIDs),
		)
	}

	br := q.SendBatch(ctx, batch)
	for _, c := range coupons {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "upsert coupon %q", c.Code)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                    coupon.Coupon
		typ, kind, status    string
		products, categories []int64
		users                []int64
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Code, &typ, &c.ShortDescription, &c.LongDescription,
		&kind, &c.DiscountValue, &c.MinimumCartValue, &c.StartsAt, &c.EndsAt, &status,
		&c.Scope.AllNewUsers, &products, &categories, &users,
	)
	c.Type = coupon.Type(typ)
	c.DiscountKind = coupon.DiscountKind(kind)
	c.Status = coupon.Status(status)
	c.Scope.ProductIDs = products
	c.Scope.CategoryIDs = categories
	c.Scope.UserIDs = users
	return c, err
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
