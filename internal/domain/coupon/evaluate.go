package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is the coupon-relevant view of a priced cart line.
type Line struct {
	ProductID  int64
	CategoryID int64
	// Total is unit price times quantity, already rounded to cents.
	Total decimal.Decimal
}

// Cart is the set of lines a coupon is evaluated against.
type Cart struct {
	Lines []Line
}

// Subtotal is the product total before tax and shipping.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

// Customer is the coupon-relevant view of the buyer.
type Customer struct {
	ID    int64
	IsNew bool
}

// Evaluation is the outcome of evaluating one coupon. Reason and Message are
// set only when Applicable is false.
type Evaluation struct {
	Applicable       bool
	Discount         decimal.Decimal
	EligibleSubtotal decimal.Decimal
	Reason           Reason
	Message          string
}

func reject(reason Reason, msg string) Evaluation {
	return Evaluation{Discount: decimal.Zero, EligibleSubtotal: decimal.Zero, Reason: reason, Message: msg}
}

// Evaluate checks eligibility of c for the cart and customer at now and
// computes the discount. A nil coupon evaluates as NOT_FOUND.
func Evaluate(c *Coupon, cart Cart, cust Customer, now time.Time) Evaluation {
	if c == nil {
		return reject(ReasonNotFound, "Coupon code not found")
	}
	if c.Status != StatusEnabled {
		return reject(ReasonNotEligible, "Coupon is not active")
	}
	if now.Before(c.StartsAt) {
		return reject(ReasonExpired, "Coupon is not yet active")
	}
	if now.After(c.EndsAt) {
		return reject(ReasonExpired, "Coupon has expired")
	}
	if !c.Scope.AllowsCustomer(cust) {
		if c.Scope.AllNewUsers && !cust.IsNew {
			return reject(ReasonNotEligible, "Coupon is only available to new customers")
		}
		return reject(ReasonNotEligible, "Coupon is not available for this account")
	}

	eligible := decimal.Zero
	matched := false
	for _, l := range cart.Lines {
		if c.Scope.MatchesLine(l) {
			eligible = eligible.Add(l.Total)
			matched = true
		}
	}
	if !matched {
		return reject(ReasonNotEligible, "Coupon does not apply to any item in the cart")
	}

	if c.MinimumCartValue != nil && cart.Subtotal().LessThan(*c.MinimumCartValue) {
		return reject(ReasonBelowMinimum, "Cart value is below the coupon minimum of "+c.MinimumCartValue.StringFixed(2))
	}

	amount := discountFor(c, eligible)
	if !amount.IsPositive() {
		return reject(ReasonNotEligible, "Coupon does not reduce the order total")
	}

	return Evaluation{
		Applicable:       true,
		Discount:         amount,
		EligibleSubtotal: eligible,
	}
}

func discountFor(c *Coupon, eligible decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountKind {
	case DiscountPercentage:
		amount = eligible.Mul(c.DiscountValue).Div(hundred)
	case DiscountFlat:
		amount = decimal.Min(c.DiscountValue, eligible)
	default:
		return decimal.Zero
	}
	amount = decimal.Min(floorAtZero(amount).Round(2), eligible)
	return amount
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
