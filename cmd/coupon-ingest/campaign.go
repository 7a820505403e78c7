package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// campaignFlags describe the coupon every ingested code is issued as.
type campaignFlags struct {
	name          string
	description   string
	couponType    string
	discountKind  string
	discountValue string
	minCartValue  string
	startsAt      string
	validDays     int
	batchSize     int
}

func (c *campaignFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.name, "name", "Partner promo", "campaign name")
	fs.StringVar(&c.description, "description", "Partner promo code: 10% off", "short description shown with the discount")
	fs.StringVar(&c.couponType, "type", string(coupon.TypeCartValue), "coupon type: PRODUCT, CART_VALUE or NEW_SIGNUP")
	fs.StringVar(&c.discountKind, "discount-kind", string(coupon.DiscountPercentage), "PERCENTAGE or FLAT")
	fs.StringVar(&c.discountValue, "discount-value", "10", "percentage points or flat amount")
	fs.StringVar(&c.minCartValue, "min-cart-value", "", "minimum eligible subtotal, empty for none")
	fs.StringVar(&c.startsAt, "starts-at", "", "RFC 3339 start of the window (default: now)")
	fs.IntVar(&c.validDays, "valid-days", 30, "length of the validity window in days")
	fs.IntVar(&c.batchSize, "batch-size", 1000, "coupons per upsert batch")
}

// campaign builds the coupon template. Code is left empty.
func (c *campaignFlags) campaign(now time.Time) (coupon.Coupon, error) {
	var tmpl coupon.Coupon

	switch t := coupon.Type(c.couponType); t {
	case coupon.TypeProduct, coupon.TypeCartValue, coupon.TypeNewSignup:
		tmpl.Type = t
	default:
		return tmpl, errors.Errorf("unknown coupon type %q", c.couponType)
	}

	value, err := decimal.NewFromString(c.discountValue)
	if err != nil {
		return tmpl, errors.Wrap(err, "parse discount value")
	}
	if !value.IsPositive() {
		return tmpl, errors.New("discount value must be positive")
	}

	switch k := coupon.DiscountKind(c.discountKind); k {
	case coupon.DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return tmpl, errors.New("percentage discount cannot exceed 100")
		}
		tmpl.DiscountKind = k
	case coupon.DiscountFlat:
		tmpl.DiscountKind = k
	default:
		return tmpl, errors.Errorf("unknown discount kind %q", c.discountKind)
	}
	tmpl.DiscountValue = value

	if c.minCartValue != "" {
		minimum, err := decimal.NewFromString(c.minCartValue)
		if err != nil {
			return tmpl, errors.Wrap(err, "parse minimum cart value")
		}
		if minimum.IsNegative() {
			return tmpl, errors.New("minimum cart value cannot be negative")
		}
		tmpl.MinimumCartValue = &minimum
	}

	start := now
	if c.startsAt != "" {
		if start, err = time.Parse(time.RFC3339, c.startsAt); err != nil {
			return tmpl, errors.Wrap(err, "parse starts-at")
		}
	}
	if c.validDays <= 0 {
		return tmpl, errors.New("valid-days must be positive")
	}
	if c.batchSize <= 0 {
		return tmpl, errors.New("batch-size must be positive")
	}

	tmpl.Name = c.name
	tmpl.ShortDescription = c.description
	tmpl.StartsAt = start
	tmpl.EndsAt = start.AddDate(0, 0, c.validDays)
	tmpl.Status = coupon.StatusEnabled
	tmpl.Scope.AllNewUsers = tmpl.Type == coupon.TypeNewSignup
	return tmpl, nil
}

type couponUpserter interface {
	Upsert(ctx context.Context, coupons []coupon.Coupon) error
}

// writeCoupons issues every code as a copy of tmpl, batchSize at a time.
func writeCoupons(ctx context.Context, repo couponUpserter, tmpl coupon.Coupon, codes []string, batchSize int) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	batch := make([]coupon.Coupon, 0, min(batchSize, len(codes)))
	written := 0
	for i, code := range codes {
		c := tmpl
		c.Code = code
		batch = append(batch, c)

		if len(batch) < batchSize && i+1 < len(codes) {
			continue
		}
		if err := repo.Upsert(ctx, batch); err != nil {
			return errors.Wrapf(err, "upsert batch ending at %s", code)
		}
		written += len(batch)
		batch = batch[:0]

		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(codes)))
	}

	return nil
}
