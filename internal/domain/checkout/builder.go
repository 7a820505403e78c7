package checkout

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// Priced is the output of Builder.Build.
type Priced struct {
	Summary order.Summary
	Lines   []order.Line
	// Coupon is set when a coupon code was requested.
	Coupon *coupon.Evaluation
}

// Builder composes line tax, shipping and coupon results into a summary. It
// performs no I/O; identical Inputs always produce identical output.
type Builder struct {
	Currency string
}

// Build prices in. A destination that resolves to no cost fails with
// shipping.ErrNotShippable; an inapplicable coupon is reported in the
// summary and never fails the build.
func (b Builder) Build(in *Inputs) (*Priced, error) {
	if in == nil || len(in.Lines) == 0 {
		return nil, validation("cart is empty")
	}

	out := &Priced{
		Summary: order.Summary{
			Currency:      b.Currency,
			ProductTotal:  decimal.Zero,
			TaxTotal:      decimal.Zero,
			TaxLines:      []order.TaxLine{},
			ShippingTotal: decimal.Zero,
			DiscountTotal: decimal.Zero,
		},
		Lines: make([]order.Line, 0, len(in.Lines)),
	}
	s := &out.Summary

	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			return nil, validation("quantity must be greater than 0")
		}
		p := in.Products[l.ProductID]
		rate := tax.EffectiveRate(l.UnitPrice, p.TaxRules)
		total := tax.LineTotal(l.UnitPrice, l.Quantity)
		lineTax := tax.LineTax(l.UnitPrice, l.Quantity, rate)

		out.Lines = append(out.Lines, order.Line{
			CartLineID:   l.ID,
			ProductID:    l.ProductID,
			ProductName:  p.Name,
			CategoryID:   p.CategoryID,
			VariantID:    l.VariantID,
			VariantSKU:   l.VariantSKU,
			VariantLabel: l.VariantLabel,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineTotal:    total,
			TaxRate:      rate,
			TaxAmount:    lineTax,
		})
		s.ProductTotal = s.ProductTotal.Add(total)
		s.TaxTotal = s.TaxTotal.Add(lineTax)
		if rate != nil {
			s.TaxLines = append(s.TaxLines, order.TaxLine{
				ProductID:   l.ProductID,
				ProductName: p.Name,
				VariantID:   l.VariantID,
				Rate:        *rate,
				Amount:      lineTax,
			})
		}
	}

	if in.Path != nil {
		q, err := shipping.Resolve(*in.Path)
		if err != nil {
			return nil, errors.Wrap(err, "resolve shipping")
		}
		s.Shipping = &q
		s.ShippingTotal = q.EffectiveCost
	}

	if in.CouponCode != "" {
		ev := coupon.Evaluate(in.Coupon, couponCart(out.Lines), couponCustomer(in), in.Now)
		out.Coupon = &ev
		if ev.Applicable {
			s.DiscountTotal = ev.Discount
			s.Coupon = &order.AppliedCoupon{
				Code:        in.Coupon.Code,
				Kind:        string(in.Coupon.DiscountKind),
				Value:       in.Coupon.DiscountValue,
				Description: in.Coupon.Description(),
				Amount:      ev.Discount,
			}
		} else {
			s.CouponRejection = &order.CouponRejection{
				Code:    in.CouponCode,
				Reason:  string(ev.Reason),
				Message: ev.Message,
			}
		}
	}

	grand := s.ProductTotal.Add(s.TaxTotal).Add(s.ShippingTotal).Sub(s.DiscountTotal)
	if grand.IsNegative() {
		grand = decimal.Zero
	}
	s.GrandTotal = grand.Round(tax.MoneyPlaces)

	return out, nil
}

func couponCart(lines []order.Line) coupon.Cart {
	c := coupon.Cart{Lines: make([]coupon.Line, len(lines))}
	for i, l := range lines {
		c.Lines[i] = coupon.Line{ProductID: l.ProductID, CategoryID: l.CategoryID, Total: l.LineTotal}
	}
	return c
}

func couponCustomer(in *Inputs) coupon.Customer {
	return coupon.Customer{ID: in.Customer.ID, IsNew: in.IsNewCustomer}
}
