// Package shipping resolves the effective shipping cost of a destination from
// the country/state/city hierarchy and exact-match area rates.
package shipping

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotShippable is returned when no enabled tier yields a cost.
var ErrNotShippable = errors.New("no shippable destination")

// Tier names one level of the hierarchy, or the area rate override.
type Tier string

const (
	TierArea    Tier = "AREA"
	TierCity    Tier = "CITY"
	TierState   Tier = "STATE"
	TierCountry Tier = "COUNTRY"
)

// Country is the root tier and carries the base cost.
type Country struct {
	ID      int64
	Name    string
	Enabled bool
	Cost    decimal.Decimal
}

// State is a child of a Country.
type State struct {
	ID           int64
	CountryID    int64
	Name         string
	Enabled      bool
	OverrideCost *decimal.Decimal
}

// City is a child of a State.
type City struct {
	ID           int64
	StateID      int64
	Name         string
	Enabled      bool
	OverrideCost *decimal.Decimal
}

// AreaRate fixes the cost for an exact (country, state, city) triple. Zero
// state or city IDs match destinations without that tier.
type AreaRate struct {
	ID        int64
	CountryID int64
	StateID   int64
	CityID    int64
	Cost      decimal.Decimal
}

// Destination identifies where an order ships. Zero StateID or CityID means
// the tier is not applicable.
type Destination struct {
	CountryID int64 `json:"country_id"`
	StateID   int64 `json:"state_id,omitempty"`
	CityID    int64 `json:"city_id,omitempty"`
}

// IsZero reports whether no tier is set at all.
func (d Destination) IsZero() bool {
	return d.CountryID == 0 && d.StateID == 0 && d.CityID == 0
}

// Path is the fully loaded hierarchy for one destination. State, City and
// AreaRate are nil when not applicable.
type Path struct {
	Country  Country
	State    *State
	City     *City
	AreaRate *AreaRate
}

// Quote is the outcome of a resolution. Each tier's own cost is reported even
// when a higher-precedence tier wins.
type Quote struct {
	CountryID     int64            `json:"country_id"`
	StateID       int64            `json:"state_id,omitempty"`
	CityID        int64            `json:"city_id,omitempty"`
	CountryName   string           `json:"country_name"`
	StateName     string           `json:"state_name,omitempty"`
	CityName      string           `json:"city_name,omitempty"`
	CountryCost   decimal.Decimal  `json:"country_cost"`
	StateCost     *decimal.Decimal `json:"state_cost,omitempty"`
	CityCost      *decimal.Decimal `json:"city_cost,omitempty"`
	AreaCost      *decimal.Decimal `json:"area_cost,omitempty"`
	EffectiveCost decimal.Decimal  `json:"effective_cost"`
	Source        Tier             `json:"source"`
}

// NodeNotFoundError reports an unknown hierarchy ID.
type NodeNotFoundError struct {
	Tier Tier
	ID   int64
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Tier, e.ID)
}

// MismatchError reports a child that does not belong to the given parent.
type MismatchError struct {
	Child    Tier
	ChildID  int64
	Parent   Tier
	ParentID int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s %d does not belong to %s %d", e.Child, e.ChildID, e.Parent, e.ParentID)
}

// Network looks up hierarchy nodes. Implementations return a
// *NodeNotFoundError for unknown IDs and (nil, nil) when no area rate exists.
type Network interface {
	Country(ctx context.Context, id int64) (*Country, error)
	State(ctx context.Context, id int64) (*State, error)
	City(ctx context.Context, id int64) (*City, error)
	AreaRate(ctx context.Context, countryID, stateID, cityID int64) (*AreaRate, error)
}

// Directory adds the listings a storefront needs to build a Destination.
// Each list holds only enabled nodes, ordered by name.
type Directory interface {
	Network
	Countries(ctx context.Context) ([]Country, error)
	StatesOf(ctx context.Context, countryID int64) ([]State, error)
	CitiesOf(ctx context.Context, stateID int64) ([]City, error)
}

// Option is one selectable region.
type Option struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EnabledCountries lists the countries open for shipping.
func EnabledCountries(ctx context.Context, d Directory) ([]Option, error) {
	countries, err := d.Countries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list countries")
	}
	out := make([]Option, 0, len(countries))
	for _, c := range countries {
		out = append(out, Option{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

// EnabledStates lists the enabled states of a country. A disabled country
// has none.
func EnabledStates(ctx context.Context, d Directory, countryID int64) ([]Option, error) {
	c, err := d.Country(ctx, countryID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup country")
	}
	if !c.Enabled {
		return []Option{}, nil
	}
	states, err := d.StatesOf(ctx, countryID)
	if err != nil {
		return nil, errors.Wrapf(err, "list states of country %d", countryID)
	}
	out := make([]Option, 0, len(states))
	for _, s := range states {
		out = append(out, Option{ID: s.ID, Name: s.Name})
	}
	return out, nil
}

// EnabledCities lists the enabled cities of a state. A disabled state, or a
// state of a disabled country, has none.
func EnabledCities(ctx context.Context, d Directory, stateID int64) ([]Option, error) {
	s, err := d.State(ctx, stateID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup state")
	}
	if !s.Enabled {
		return []Option{}, nil
	}
	c, err := d.Country(ctx, s.CountryID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup country")
	}
	if !c.Enabled {
		return []Option{}, nil
	}
	cities, err := d.CitiesOf(ctx, stateID)
	if err != nil {
		return nil, errors.Wrapf(err, "list cities of state %d", stateID)
	}
	out := make([]Option, 0, len(cities))
	for _, city := range cities {
		out = append(out, Option{ID: city.ID, Name: city.Name})
	}
	return out, nil
}

// Locate loads the Path for dest. Missing parents are inferred from their
// child; explicit parents must match.
func Locate(ctx context.Context, n Network, dest Destination) (*Path, error) {
	var (
		path    Path
		stateID = dest.StateID
		country = dest.CountryID
	)

	if dest.CityID != 0 {
		city, err := n.City(ctx, dest.CityID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup city")
		}
		if stateID == 0 {
			stateID = city.StateID
		} else if city.StateID != stateID {
			return nil, &MismatchError{Child: TierCity, ChildID: city.ID, Parent: TierState, ParentID: stateID}
		}
		path.City = city
	}

	if stateID != 0 {
		state, err := n.State(ctx, stateID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup state")
		}
		if country == 0 {
			country = state.CountryID
		} else if state.CountryID != country {
			return nil, &MismatchError{Child: TierState, ChildID: state.ID, Parent: TierCountry, ParentID: country}
		}
		path.State = state
	}

	if country == 0 {
		return nil, &NodeNotFoundError{Tier: TierCountry}
	}
	c, err := n.Country(ctx, country)
	if err != nil {
		return nil, errors.Wrap(err, "lookup country")
	}
	path.Country = *c

	var cityID int64
	if path.City != nil {
		cityID = path.City.ID
	}
	rate, err := n.AreaRate(ctx, country, stateID, cityID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup area rate")
	}
	path.AreaRate = rate

	return &path, nil
}

// Resolve applies tier precedence to a loaded path: an area rate, then an
// enabled city override, then an enabled state override, then the enabled
// country's base cost. Tier enablement is ignored for area rates.
func Resolve(p Path) (Quote, error) {
	q := Quote{
		CountryID:   p.Country.ID,
		CountryName: p.Country.Name,
		CountryCost: normalize(p.Country.Cost),
	}
	if p.State != nil {
		q.StateID = p.State.ID
		q.StateName = p.State.Name
		q.StateCost = normalizePtr(p.State.OverrideCost)
	}
	if p.City != nil {
		q.CityID = p.City.ID
		q.CityName = p.City.Name
		q.CityCost = normalizePtr(p.City.OverrideCost)
	}

	switch {
	case p.AreaRate != nil:
		q.AreaCost = normalizePtr(&p.AreaRate.Cost)
		q.EffectiveCost = *q.AreaCost
		q.Source = TierArea
	case p.City != nil && p.City.Enabled && q.CityCost != nil:
		q.EffectiveCost = *q.CityCost
		q.Source = TierCity
	case p.State != nil && p.State.Enabled && q.StateCost != nil:
		q.EffectiveCost = *q.StateCost
		q.Source = TierState
	case p.Country.Enabled:
		q.EffectiveCost = q.CountryCost
		q.Source = TierCountry
	default:
		return Quote{}, ErrNotShippable
	}

	return q, nil
}

func normalize(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func normalizePtr(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	n := normalize(*v)
	return &n
}
