package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

const (
	getProductsByIDsSQL = `SELECT id, name, slug, COALESCE(category_id, 0), price, active
		FROM products WHERE id = ANY($1) AND active = TRUE`

	getTaxRulesSQL = `SELECT id, product_id, name, kind, value
		FROM product_taxes WHERE product_id = ANY($1) ORDER BY product_id, id`

	getVariantsByIDsSQL = `SELECT id, product_id, sku, label, price
		FROM product_variants WHERE id = ANY($1)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
// Inactive products are treated as missing.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns the active products among ids with their tax rules.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}

	rows, err = r.pool.Query(ctx, getTaxRulesSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get tax rules")
	}
	rules, err := pgx.CollectRows(rows, scanTaxRule)
	if err != nil {
		return nil, errors.Wrap(err, "scan tax rules")
	}

	byProduct := make(map[int64][]tax.Rule, len(products))
	for _, rule := range rules {
		byProduct[rule.ProductID] = append(byProduct[rule.ProductID], rule)
	}
	for i := range products {
		products[i].TaxRules = byProduct[products[i].ID]
	}
	return products, nil
}

// VariantsByIDs returns the variants among ids.
func (r *ProductRepository) VariantsByIDs(ctx context.Context, ids []int64) ([]product.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getVariantsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants by ids")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Variant, error) {
		var v product.Variant
		err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Label, &v.Price)
		return v, err
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.CategoryID, &p.Price, &p.Active)
	return p, err
}

func scanTaxRule(row pgx.CollectableRow) (tax.Rule, error) {
	var (
		rule tax.Rule
		kind string
	)
	err := row.Scan(&rule.ID, &rule.ProductID, &rule.Name, &kind, &rule.Value)
	rule.Kind = tax.Kind(kind)
	return rule, err
}
