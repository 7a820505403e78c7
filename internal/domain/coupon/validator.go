package coupon

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// Reason is the machine-readable cause of an inapplicable coupon.
type Reason string

const (
	ReasonNotFound     Reason = "NOT_FOUND"
	ReasonExpired      Reason = "EXPIRED"
	ReasonBelowMinimum Reason = "BELOW_MINIMUM"
	ReasonNotEligible  Reason = "NOT_ELIGIBLE"
)

// IneligibleError is returned when a caller explicitly validates a coupon
// that does not apply.
type IneligibleError struct {
	Code    string
	Reason  Reason
	Message string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("coupon %q: %s (%s)", e.Code, e.Message, e.Reason)
}

// Err converts an inapplicable evaluation to an *IneligibleError. It returns
// nil for applicable evaluations.
func (e Evaluation) Err(code string) error {
	if e.Applicable {
		return nil
	}
	return &IneligibleError{Code: code, Reason: e.Reason, Message: e.Message}
}

// Validator evaluates coupons looked up from a Repository.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator backed by repo.
func NewValidator(repo Repository, opts ...ValidatorOption) *Validator {
	v := &Validator{repo: repo, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Lookup finds a coupon by code. Unknown codes yield (nil, nil) so the
// evaluation reports NOT_FOUND instead of failing the request.
func (v *Validator) Lookup(ctx context.Context, code string) (*Coupon, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	return c, nil
}

// Validate looks up code and evaluates it. The returned error is an
// *IneligibleError when the coupon does not apply.
func (v *Validator) Validate(ctx context.Context, code string, cart Cart, cust Customer) (*Coupon, Evaluation, error) {
	c, err := v.Lookup(ctx, code)
	if err != nil {
		return nil, Evaluation{}, err
	}
	ev := Evaluate(c, cart, cust, v.now())
	return c, ev, ev.Err(NormalizeCode(code))
}

// Available lists the enabled, currently active coupons the customer may
// use, soonest expiry first.
func (v *Validator) Available(ctx context.Context, cust Customer) ([]Coupon, error) {
	all, err := v.repo.ListEnabled(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return Available(all, cust, v.now()), nil
}

// Available filters coupons to those enabled, inside their window and
// allowed for cust, ordered by end date.
func Available(coupons []Coupon, cust Customer, now time.Time) []Coupon {
	out := make([]Coupon, 0, len(coupons))
	for _, c := range coupons {
		if c.Status != StatusEnabled || now.Before(c.StartsAt) || now.After(c.EndsAt) {
			continue
		}
		if !c.Scope.AllowsCustomer(cust) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Coupon) int {
		return a.EndsAt.Compare(b.EndsAt)
	})
	return out
}
