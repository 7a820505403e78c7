package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// Fixture is the seed document. Rows carry explicit IDs so that re-seeding
// is an upsert.
type Fixture struct {
	Categories []FixtureCategory `json:"categories"`
	Products   []FixtureProduct  `json:"products"`
	Countries  []FixtureCountry  `json:"countries"`
	States     []FixtureState    `json:"states"`
	Cities     []FixtureCity     `json:"cities"`
	AreaRates  []FixtureAreaRate `json:"area_rates"`
	Customers  []FixtureCustomer `json:"customers"`
	Addresses  []FixtureAddress  `json:"addresses"`
	Carts      []FixtureCart     `json:"carts"`
	Coupons    []FixtureCoupon   `json:"coupons"`
}

type FixtureCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type FixtureProduct struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Slug       string           `json:"slug"`
	CategoryID int64            `json:"category_id"`
	Price      decimal.Decimal  `json:"price"`
	Inactive   bool             `json:"inactive,omitempty"`
	Taxes      []FixtureTax     `json:"taxes,omitempty"`
	Variants   []FixtureVariant `json:"variants,omitempty"`
}

type FixtureTax struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type FixtureVariant struct {
	ID    int64           `json:"id"`
	SKU   string          `json:"sku"`
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

type FixtureCountry struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Disabled bool            `json:"disabled,omitempty"`
	Cost     decimal.Decimal `json:"cost"`
}

type FixtureState struct {
	ID           int64            `json:"id"`
	CountryID    int64            `json:"country_id"`
	Name         string           `json:"name"`
	Disabled     bool             `json:"disabled,omitempty"`
	OverrideCost *decimal.Decimal `json:"override_cost,omitempty"`
}

type FixtureCity struct {
	ID           int64            `json:"id"`
	StateID      int64            `json:"state_id"`
	Name         string           `json:"name"`
	Disabled     bool             `json:"disabled,omitempty"`
	OverrideCost *decimal.Decimal `json:"override_cost,omitempty"`
}

type FixtureAreaRate struct {
	CountryID int64           `json:"country_id"`
	StateID   int64           `json:"state_id,omitempty"`
	CityID    int64           `json:"city_id,omitempty"`
	Cost      decimal.Decimal `json:"cost"`
}

type FixtureCustomer struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type FixtureAddress struct {
	ID           int64  `json:"id"`
	CustomerID   int64  `json:"customer_id"`
	Type         string `json:"type,omitempty"`
	FullName     string `json:"full_name"`
	MobileNumber string `json:"mobile_number"`
	PinCode      string `json:"pin_code"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2,omitempty"`
	Landmark     string `json:"landmark,omitempty"`
	CountryID    int64  `json:"country_id"`
	StateID      int64  `json:"state_id,omitempty"`
	CityID       int64  `json:"city_id,omitempty"`
}

// FixtureCart lists cart items; unit prices are captured from the catalog at
// seed time, as adding to a cart would.
type FixtureCart struct {
	CustomerID int64             `json:"customer_id"`
	Items      []FixtureCartItem `json:"items"`
}

type FixtureCartItem struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
	Quantity  int   `json:"quantity"`
}

// FixtureCoupon describes a coupon valid from now for ValidDays days.
type FixtureCoupon struct {
	Name             string           `json:"name"`
	Code             string           `json:"code"`
	Type             string           `json:"type"`
	Description      string           `json:"description"`
	DiscountKind     string           `json:"discount_kind"`
	DiscountValue    decimal.Decimal  `json:"discount_value"`
	MinimumCartValue *decimal.Decimal `json:"minimum_cart_value,omitempty"`
	ValidDays        int              `json:"valid_days"`
	Disabled         bool             `json:"disabled,omitempty"`
	AllNewUsers      bool             `json:"all_new_users,omitempty"`
	ProductIDs       []int64          `json:"product_ids,omitempty"`
	CategoryIDs      []int64          `json:"category_ids,omitempty"`
	UserIDs          []int64          `json:"user_ids,omitempty"`
}

// Coupon converts the fixture into a coupon whose window starts at now.
func (f FixtureCoupon) Coupon(now time.Time) coupon.Coupon {
	status := coupon.StatusEnabled
	if f.Disabled {
		status = coupon.StatusDisabled
	}
	days := f.ValidDays
	if days <= 0 {
		days = 30
	}
	return coupon.Coupon{
		Name:             f.Name,
		Code:             f.Code,
		Type:             coupon.Type(f.Type),
		ShortDescription: f.Description,
		DiscountKind:     coupon.DiscountKind(f.DiscountKind),
		DiscountValue:    f.DiscountValue,
		MinimumCartValue: f.MinimumCartValue,
		StartsAt:         now.Add(-time.Hour),
		EndsAt:           now.AddDate(0, 0, days),
		Status:           status,
		Scope: coupon.Scope{
			ProductIDs:  f.ProductIDs,
			CategoryIDs: f.CategoryIDs,
			UserIDs:     f.UserIDs,
			AllNewUsers: f.AllNewUsers,
		},
	}
}

const (
	seedCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	seedProductSQL = `INSERT INTO products (id, name, slug, category_id, price, active)
		VALUES ($1, $2, $3, NULLIF($4::BIGINT, 0), $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug,
			category_id = EXCLUDED.category_id, price = EXCLUDED.price, active = EXCLUDED.active`

	clearTaxesSQL = `DELETE FROM product_taxes WHERE product_id = $1`

	seedTaxSQL = `INSERT INTO product_taxes (product_id, name, kind, value) VALUES ($1, $2, $3, $4)`

	seedVariantSQL = `INSERT INTO product_variants (id, product_id, sku, label, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, sku = EXCLUDED.sku,
			label = EXCLUDED.label, price = EXCLUDED.price`

	seedCountrySQL = `INSERT INTO countries (id, name, enabled, cost) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, enabled = EXCLUDED.enabled, cost = EXCLUDED.cost`

	seedStateSQL = `INSERT INTO states (id, country_id, name, enabled, override_cost) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET country_id = EXCLUDED.country_id, name = EXCLUDED.name,
			enabled = EXCLUDED.enabled, override_cost = EXCLUDED.override_cost`

	seedCitySQL = `INSERT INTO cities (id, state_id, name, enabled, override_cost) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET state_id = EXCLUDED.state_id, name = EXCLUDED.name,
			enabled = EXCLUDED.enabled, override_cost = EXCLUDED.override_cost`

	seedAreaRateSQL = `INSERT INTO shipping_area_rates (country_id, state_id, city_id, cost)
		VALUES ($1, NULLIF($2::BIGINT, 0), NULLIF($3::BIGINT, 0), $4)
		ON CONFLICT ON CONSTRAINT shipping_area_rates_triple_key DO UPDATE SET cost = EXCLUDED.cost`

	seedCustomerSQL = `INSERT INTO customers (id, email, full_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name`

	seedAddressSQL = `INSERT INTO addresses (id, customer_id, type, full_name, mobile_number, pin_code,
			line1, line2, landmark, country_id, state_id, city_id)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'HOME'), $4, $5, $6, $7, $8, $9, $10,
			NULLIF($11::BIGINT, 0), NULLIF($12::BIGINT, 0))
		ON CONFLICT (id) DO UPDATE SET customer_id = EXCLUDED.customer_id, type = EXCLUDED.type,
			full_name = EXCLUDED.full_name, mobile_number = EXCLUDED.mobile_number,
			pin_code = EXCLUDED.pin_code, line1 = EXCLUDED.line1, line2 = EXCLUDED.line2,
			landmark = EXCLUDED.landmark, country_id = EXCLUDED.country_id,
			state_id = EXCLUDED.state_id, city_id = EXCLUDED.city_id`

	seedCartSQL = `INSERT INTO carts (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO UPDATE SET updated_at = now()
		RETURNING id`

	seedCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, variant_id, variant_sku, variant_label, quantity, unit_price)
		SELECT $1::BIGINT, p.id, v.id, COALESCE(v.sku, ''), COALESCE(v.label, ''), $4::INT, COALESCE(v.price, p.price)
		FROM products p
		LEFT JOIN product_variants v ON v.id = NULLIF($3::BIGINT, 0) AND v.product_id = p.id
		WHERE p.id = $2`
)

// serialTables have BIGSERIAL ids that fixtures set explicitly.
var serialTables = []string{
	"categories", "products", "product_variants", "countries", "states", "cities", "customers", "addresses",
}

// Seed upserts f in one transaction. Carts listed in f are replaced.
func Seed(ctx context.Context, pool *pgxpool.Pool, f Fixture, now time.Time) error {
	_, err := withTx(ctx, pool, func(tx pgx.Tx) (struct{}, error) {
		return struct{}{}, seed(ctx, tx, f, now)
	})
	return err
}

func seed(ctx context.Context, tx pgx.Tx, f Fixture, now time.Time) error {
	for _, c := range f.Categories {
		if _, err := tx.Exec(ctx, seedCategorySQL, c.ID, c.Name); err != nil {
			return errors.Wrapf(err, "seed category %d", c.ID)
		}
	}
	for _, p := range f.Products {
		if err := seedProduct(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, c := range f.Countries {
		if _, err := tx.Exec(ctx, seedCountrySQL, c.ID, c.Name, !c.Disabled, c.Cost); err != nil {
			return errors.Wrapf(err, "seed country %d", c.ID)
		}
	}
	for _, s := range f.States {
		if _, err := tx.Exec(ctx, seedStateSQL, s.ID, s.CountryID, s.Name, !s.Disabled, s.OverrideCost); err != nil {
			return errors.Wrapf(err, "seed state %d", s.ID)
		}
	}
	for _, c := range f.Cities {
		if _, err := tx.Exec(ctx, seedCitySQL, c.ID, c.StateID, c.Name, !c.Disabled, c.OverrideCost); err != nil {
			return errors.Wrapf(err, "seed city %d", c.ID)
		}
	}
	for _, a := range f.AreaRates {
		if _, err := tx.Exec(ctx, seedAreaRateSQL, a.CountryID, a.StateID, a.CityID, a.Cost); err != nil {
			return errors.Wrapf(err, "seed area rate %d/%d/%d", a.CountryID, a.StateID, a.CityID)
		}
	}
	for _, c := range f.Customers {
		if _, err := tx.Exec(ctx, seedCustomerSQL, c.ID, c.Email, c.FullName); err != nil {
			return errors.Wrapf(err, "seed customer %d", c.ID)
		}
	}
	for _, a := range f.Addresses {
		if _, err := tx.Exec(ctx, seedAddressSQL,
			a.ID, a.CustomerID, a.Type, a.FullName, a.MobileNumber, a.PinCode,
			a.Line1, a.Line2, a.Landmark, a.CountryID, a.StateID, a.CityID,
		); err != nil {
			return errors.Wrapf(err, "seed address %d", a.ID)
		}
	}
	for _, c := range f.Carts {
		if err := seedCart(ctx, tx, c); err != nil {
			return err
		}
	}

	coupons := make([]coupon.Coupon, 0, len(f.Coupons))
	for _, c := range f.Coupons {
		coupons = append(coupons, c.Coupon(now))
	}
	if err := upsertCoupons(ctx, tx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	for _, table := range serialTables {
		// Table names come from serialTables, never from input.
		q := `SELECT setval(pg_get_serial_sequence('` + table + `', 'id'), COALESCE((SELECT MAX(id) FROM ` + table + `), 0) + 1, false)`
		if _, err := tx.Exec(ctx, q); err != nil {
			return errors.Wrapf(err, "reset %s id sequence", table)
		}
	}
	return nil
}

func seedProduct(ctx context.Context, tx pgx.Tx, p FixtureProduct) error {
	if _, err := tx.Exec(ctx, seedProductSQL, p.ID, p.Name, p.Slug, p.CategoryID, p.Price, !p.Inactive); err != nil {
		return errors.Wrapf(err, "seed product %d", p.ID)
	}
	if _, err := tx.Exec(ctx, clearTaxesSQL, p.ID); err != nil {
		return errors.Wrapf(err, "clear taxes of product %d", p.ID)
	}
	for _, t := range p.Taxes {
		if _, err := tx.Exec(ctx, seedTaxSQL, p.ID, t.Name, t.Kind, t.Value); err != nil {
			return errors.Wrapf(err, "seed tax %q of product %d", t.Name, p.ID)
		}
	}
	for _, v := range p.Variants {
		if _, err := tx.Exec(ctx, seedVariantSQL, v.ID, p.ID, v.SKU, v.Label, v.Price); err != nil {
			return errors.Wrapf(err, "seed variant %d", v.ID)
		}
	}
	return nil
}

func seedCart(ctx context.Context, tx pgx.Tx, c FixtureCart) error {
	var cartID int64
	if err := tx.QueryRow(ctx, seedCartSQL, c.CustomerID).Scan(&cartID); err != nil {
		return errors.Wrapf(err, "seed cart of customer %d", c.CustomerID)
	}
	if _, err := tx.Exec(ctx, emptyCartSQL, cartID); err != nil {
		return errors.Wrapf(err, "clear cart %d", cartID)
	}
	for _, it := range c.Items {
		tag, err := tx.Exec(ctx, seedCartItemSQL, cartID, it.ProductID, it.VariantID, it.Quantity)
		if err != nil {
			return errors.Wrapf(err, "seed cart item %d of customer %d", it.ProductID, c.CustomerID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Errorf("seed cart item: unknown product %d", it.ProductID)
		}
	}
	return nil
}
