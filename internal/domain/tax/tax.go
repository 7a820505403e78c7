// Package tax aggregates per-product tax rules into an effective rate and
// computes line tax amounts.
package tax

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported tax rule kinds.
type Kind string

const (
	// KindPercentage contributes value/100 to the effective rate.
	KindPercentage Kind = "PERCENTAGE"
	// KindFlat is a fixed amount per unit, expressed as a rate relative to
	// the unit price.
	KindFlat Kind = "FLAT"
)

const (
	// RatePlaces is the precision of an effective rate.
	RatePlaces = 6
	// MoneyPlaces is the precision of every monetary amount.
	MoneyPlaces = 2
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidRule is returned by Rule.Validate.
var ErrInvalidRule = errors.New("invalid tax rule")

// Rule is a single tax attached to a product. A product may carry several
// rules at once; their effects are additive.
type Rule struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Value     decimal.Decimal `json:"value"`
}

// Validate checks kind and value bounds.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindPercentage:
		if r.Value.IsNegative() || r.Value.GreaterThan(hundred) {
			return errors.Wrapf(ErrInvalidRule, "percentage %s out of [0,100]", r.Value)
		}
	case KindFlat:
		if r.Value.IsNegative() {
			return errors.Wrapf(ErrInvalidRule, "flat amount %s is negative", r.Value)
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown kind %q", r.Kind)
	}
	return nil
}

// contribution returns the rule's share of the effective rate for a unit
// price, computed to RatePlaces.
func (r Rule) contribution(unitPrice decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case KindPercentage:
		return r.Value.DivRound(hundred, RatePlaces)
	case KindFlat:
		if unitPrice.IsZero() {
			return decimal.Zero
		}
		return r.Value.DivRound(unitPrice, RatePlaces)
	default:
		return decimal.Zero
	}
}

// EffectiveRate sums the contributions of rules for the given unit price.
// It returns nil when no rules are configured, which callers must keep
// distinct from a configured rate of zero.
func EffectiveRate(unitPrice decimal.Decimal, rules []Rule) *decimal.Decimal {
	if len(rules) == 0 {
		return nil
	}
	rate := decimal.Zero
	for _, r := range rules {
		rate = rate.Add(r.contribution(unitPrice))
	}
	rate = rate.Round(RatePlaces)
	return &rate
}

// LineTotal is unitPrice*quantity rounded half-up to MoneyPlaces.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(MoneyPlaces)
}

// LineTax applies rate to the line total. A nil rate yields zero.
func LineTax(unitPrice decimal.Decimal, quantity int, rate *decimal.Decimal) decimal.Decimal {
	if rate == nil {
		return decimal.Zero
	}
	return LineTotal(unitPrice, quantity).Mul(*rate).Round(MoneyPlaces)
}
