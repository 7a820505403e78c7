package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

const (
	getCountrySQL = `SELECT id, name, enabled, cost FROM countries WHERE id = $1`
	getStateSQL   = `SELECT id, country_id, name, enabled, override_cost FROM states WHERE id = $1`
	getCitySQL    = `SELECT id, state_id, name, enabled, override_cost FROM cities WHERE id = $1`

	listCountriesSQL = `SELECT id, name, enabled, cost FROM countries WHERE enabled ORDER BY name, id`
	listStatesSQL    = `SELECT id, country_id, name, enabled, override_cost FROM states
		WHERE country_id = $1 AND enabled ORDER BY name, id`
	listCitiesSQL = `SELECT id, state_id, name, enabled, override_cost FROM cities
		WHERE state_id = $1 AND enabled ORDER BY name, id`

	// NULLIF maps the zero "not applicable" IDs onto NULL so that IS NOT
	// DISTINCT FROM matches rows without that tier.
	getAreaRateSQL = `SELECT id, country_id, COALESCE(state_id, 0), COALESCE(city_id, 0), cost
		FROM shipping_area_rates
		WHERE country_id = $1
			AND state_id IS NOT DISTINCT FROM NULLIF($2::BIGINT, 0)
			AND city_id IS NOT DISTINCT FROM NULLIF($3::BIGINT, 0)`
)

var _ shipping.Directory = (*ShippingNetwork)(nil)

// ShippingNetwork implements shipping.Directory backed by PostgreSQL.
type ShippingNetwork struct {
	pool *pgxpool.Pool
}

// NewShippingNetwork returns a ShippingNetwork that uses the given pool.
func NewShippingNetwork(pool *pgxpool.Pool) *ShippingNetwork {
	return &ShippingNetwork{pool: pool}
}

func (n *ShippingNetwork) Country(ctx context.Context, id int64) (*shipping.Country, error) {
	var c shipping.Country
	err := n.pool.QueryRow(ctx, getCountrySQL, id).Scan(&c.ID, &c.Name, &c.Enabled, &c.Cost)
	if err != nil {
		return nil, nodeErr(err, shipping.TierCountry, id)
	}
	return &c, nil
}

func (n *ShippingNetwork) State(ctx context.Context, id int64) (*shipping.State, error) {
	var s shipping.State
	err := n.pool.QueryRow(ctx, getStateSQL, id).Scan(&s.ID, &s.CountryID, &s.Name, &s.Enabled, &s.OverrideCost)
	if err != nil {
		return nil, nodeErr(err, shipping.TierState, id)
	}
	return &s, nil
}

func (n *ShippingNetwork) City(ctx context.Context, id int64) (*shipping.City, error) {
	var c shipping.City
	err := n.pool.QueryRow(ctx, getCitySQL, id).Scan(&c.ID, &c.StateID, &c.Name, &c.Enabled, &c.OverrideCost)
	if err != nil {
		return nil, nodeErr(err, shipping.TierCity, id)
	}
	return &c, nil
}

// AreaRate returns the exact-match rate, or (nil, nil) when none exists.
func (n *ShippingNetwork) AreaRate(ctx context.Context, countryID, stateID, cityID int64) (*shipping.AreaRate, error) {
	var a shipping.AreaRate
	err := n.pool.QueryRow(ctx, getAreaRateSQL, countryID, stateID, cityID).
		Scan(&a.ID, &a.CountryID, &a.StateID, &a.CityID, &a.Cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get area rate")
	}
	return &a, nil
}

// Countries lists enabled countries by name.
func (n *ShippingNetwork) Countries(ctx context.Context) ([]shipping.Country, error) {
	rows, err := n.pool.Query(ctx, listCountriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list countries")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.Country, error) {
		var c shipping.Country
		err := row.Scan(&c.ID, &c.Name, &c.Enabled, &c.Cost)
		return c, err
	})
}

// StatesOf lists the enabled states of a country by name.
func (n *ShippingNetwork) StatesOf(ctx context.Context, countryID int64) ([]shipping.State, error) {
	rows, err := n.pool.Query(ctx, listStatesSQL, countryID)
	if err != nil {
		return nil, errors.Wrapf(err, "list states of country %d", countryID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.State, error) {
		var s shipping.State
		err := row.Scan(&s.ID, &s.CountryID, &s.Name, &s.Enabled, &s.OverrideCost)
		return s, err
	})
}

// CitiesOf lists the enabled cities of a state by name.
func (n *ShippingNetwork) CitiesOf(ctx context.Context, stateID int64) ([]shipping.City, error) {
	rows, err := n.pool.Query(ctx, listCitiesSQL, stateID)
	if err != nil {
		return nil, errors.Wrapf(err, "list cities of state %d", stateID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shipping.City, error) {
		var c shipping.City
		err := row.Scan(&c.ID, &c.StateID, &c.Name, &c.Enabled, &c.OverrideCost)
		return c, err
	})
}

func nodeErr(err error, tier shipping.Tier, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &shipping.NodeNotFoundError{Tier: tier, ID: id}
	}
	return errors.Wrapf(err, "get %s %d", tier, id)
}
