package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountKind enumerates the supported discount strategies.
type DiscountKind string

const (
	// DiscountPercentage takes value/100 of the eligible subtotal.
	DiscountPercentage DiscountKind = "PERCENTAGE"
	// DiscountFlat takes a fixed amount capped at the eligible subtotal.
	DiscountFlat DiscountKind = "FLAT"
)

// Status is the administrative state of a coupon.
type Status string

const (
	StatusEnabled  Status = "ENABLED"
	StatusDisabled Status = "DISABLED"
)

// Type is the administrative classification shown in listings. It does not
// affect evaluation; Scope does.
type Type string

const (
	TypeProduct   Type = "PRODUCT"
	TypeCartValue Type = "CART_VALUE"
	TypeNewSignup Type = "NEW_SIGNUP"
)

// ErrNotFound is returned when no coupon has the requested code.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a discount definition. StartsAt and EndsAt bound an inclusive
// validity window.
type Coupon struct {
	ID               int64
	Name             string
	Code             string
	Type             Type
	ShortDescription string
	LongDescription  string
	DiscountKind     DiscountKind
	DiscountValue    decimal.Decimal
	MinimumCartValue *decimal.Decimal
	StartsAt         time.Time
	EndsAt           time.Time
	Status           Status
	Scope            Scope
}

// Description is the text shown next to an applied discount.
func (c *Coupon) Description() string {
	if c.ShortDescription != "" {
		return c.ShortDescription
	}
	return c.Name
}

// Repository provides coupon lookups. FindByCode matches case-insensitively
// and returns ErrNotFound for unknown codes.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	ListEnabled(ctx context.Context) ([]Coupon, error)
}

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
