package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func TestEvaluate(t *testing.T) {
	cart := Cart{Lines: []Line{
		{ProductID: 1, CategoryID: 10, Total: d("20.00")},
		{ProductID: 2, CategoryID: 20, Total: d("30.00")},
	}}
	customer := Customer{ID: 7}

	tests := []struct {
		name         string
		coupon       func() *Coupon
		cart         Cart
		customer     Customer
		now          time.Time
		wantOK       bool
		wantDiscount string
		wantReason   Reason
	}{
		{
			name:       "nil coupon is not found",
			coupon:     func() *Coupon { return nil },
			wantReason: ReasonNotFound,
		},
		{
			name: "percentage of full subtotal",
			coupon: func() *Coupon {
				c := activeCoupon("P10", DiscountPercentage, "10")
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "flat below subtotal",
			coupon: func() *Coupon {
				c := activeCoupon("F5", DiscountFlat, "5")
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "flat capped at eligible subtotal",
			coupon: func() *Coupon {
				c := activeCoupon("F100", DiscountFlat, "100")
				c.Scope.ProductIDs = []int64{1}
				return &c
			},
			wantOK:       true,
			wantDiscount: "20.00",
		},
		{
			name: "percentage limited to matching category",
			coupon: func() *Coupon {
				c := activeCoupon("CAT", DiscountPercentage, "50")
				c.Scope.CategoryIDs = []int64{20}
				return &c
			},
			wantOK:       true,
			wantDiscount: "15.00",
		},
		{
			name: "product and category sets form one item filter",
			coupon: func() *Coupon {
				c := activeCoupon("MIX", DiscountPercentage, "10")
				c.Scope.ProductIDs = []int64{1}
				c.Scope.CategoryIDs = []int64{20}
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "percentage rounds half up",
			coupon: func() *Coupon {
				c := activeCoupon("ODD", DiscountPercentage, "12.5")
				c.Scope.ProductIDs = []int64{3}
				return &c
			},
			cart:         Cart{Lines: []Line{{ProductID: 3, Total: d("0.20")}}},
			wantOK:       true,
			wantDiscount: "0.03",
		},
		{
			name: "disabled",
			coupon: func() *Coupon {
				c := activeCoupon("OFF", DiscountFlat, "5")
				c.Status = StatusDisabled
				return &c
			},
			wantReason: ReasonNotEligible,
		},
		{
			name: "expired",
			coupon: func() *Coupon {
				c := activeCoupon("OLD", DiscountFlat, "5")
				c.EndsAt = fixedNow.Add(-time.Second)
				return &c
			},
			wantReason: ReasonExpired,
		},
		{
			name: "not yet started",
			coupon: func() *Coupon {
				c := activeCoupon("NEW", DiscountFlat, "5")
				c.StartsAt = fixedNow.Add(time.Second)
				return &c
			},
			wantReason: ReasonExpired,
		},
		{
			name: "window end is inclusive",
			coupon: func() *Coupon {
				c := activeCoupon("EDGE", DiscountFlat, "5")
				c.EndsAt = fixedNow
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "window start is inclusive",
			coupon: func() *Coupon {
				c := activeCoupon("EDGE", DiscountFlat, "5")
				c.StartsAt = fixedNow
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "no matching item",
			coupon: func() *Coupon {
				c := activeCoupon("ITEM", DiscountFlat, "5")
				c.Scope.ProductIDs = []int64{99}
				return &c
			},
			wantReason: ReasonNotEligible,
		},
		{
			name: "user outside user set",
			coupon: func() *Coupon {
				c := activeCoupon("VIP", DiscountFlat, "5")
				c.Scope.UserIDs = []int64{1, 2}
				return &c
			},
			wantReason: ReasonNotEligible,
		},
		{
			name: "user inside user set",
			coupon: func() *Coupon {
				c := activeCoupon("VIP", DiscountFlat, "5")
				c.Scope.UserIDs = []int64{7}
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "new user flag rejects returning customer",
			coupon: func() *Coupon {
				c := activeCoupon("WELCOME", DiscountFlat, "5")
				c.Scope.AllNewUsers = true
				return &c
			},
			wantReason: ReasonNotEligible,
		},
		{
			name: "new user flag accepts new customer",
			coupon: func() *Coupon {
				c := activeCoupon("WELCOME", DiscountFlat, "5")
				c.Scope.AllNewUsers = true
				return &c
			},
			customer:     Customer{ID: 7, IsNew: true},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "filters are conjunctive",
			coupon: func() *Coupon {
				c := activeCoupon("BOTH", DiscountFlat, "5")
				c.Scope.UserIDs = []int64{7}
				c.Scope.ProductIDs = []int64{99}
				return &c
			},
			wantReason: ReasonNotEligible,
		},
		{
			name: "below minimum",
			coupon: func() *Coupon {
				c := activeCoupon("MIN", DiscountFlat, "5")
				c.MinimumCartValue = ptr(d("50.01"))
				return &c
			},
			wantReason: ReasonBelowMinimum,
		},
		{
			name: "minimum compares full subtotal, not eligible subtotal",
			coupon: func() *Coupon {
				c := activeCoupon("MIN", DiscountFlat, "5")
				c.MinimumCartValue = ptr(d("50.00"))
				c.Scope.ProductIDs = []int64{1}
				return &c
			},
			wantOK:       true,
			wantDiscount: "5.00",
		},
		{
			name: "zero discount is not eligible",
			coupon: func() *Coupon {
				c := activeCoupon("ZERO", DiscountPercentage, "0")
				return &c
			},
			wantReason: ReasonNotEligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cart
			if tt.cart.Lines != nil {
				c = tt.cart
			}
			cust := customer
			if tt.customer.ID != 0 {
				cust = tt.customer
			}

			ev := Evaluate(tt.coupon(), c, cust, fixedNow)
			if !tt.wantOK {
				assert.False(t, ev.Applicable)
				assert.Equal(t, tt.wantReason, ev.Reason)
				assert.NotEmpty(t, ev.Message)
				assert.True(t, ev.Discount.IsZero())
				return
			}
			require.True(t, ev.Applicable, "reason %s: %s", ev.Reason, ev.Message)
			assert.True(t, d(tt.wantDiscount).Equal(ev.Discount), "want %s, got %s", tt.wantDiscount, ev.Discount)
		})
	}
}

func TestEvaluate_MinimumThreshold(t *testing.T) {
	c := activeCoupon("MIN50", DiscountFlat, "5")
	c.MinimumCartValue = ptr(d("50"))

	below := Evaluate(&c, Cart{Lines: []Line{{ProductID: 1, Total: d("49.99")}}}, Customer{ID: 1}, fixedNow)
	assert.False(t, below.Applicable)
	assert.Equal(t, ReasonBelowMinimum, below.Reason)

	at := Evaluate(&c, Cart{Lines: []Line{{ProductID: 1, Total: d("50.00")}}}, Customer{ID: 1}, fixedNow)
	assert.True(t, at.Applicable)
	assert.True(t, d("5").Equal(at.Discount))
}

func TestEvaluate_FlatNeverExceedsEligible(t *testing.T) {
	totals := []string{"0.01", "0.99", "4.99", "5.00", "5.01", "250.00"}
	for _, total := range totals {
		c := activeCoupon("F5", DiscountFlat, "5")
		ev := Evaluate(&c, Cart{Lines: []Line{{ProductID: 1, Total: d(total)}}}, Customer{ID: 1}, fixedNow)
		require.True(t, ev.Applicable, total)
		assert.False(t, ev.Discount.IsNegative(), total)
		assert.False(t, ev.EligibleSubtotal.Sub(ev.Discount).IsNegative(), total)
	}
}

func TestEvaluationErr(t *testing.T) {
	assert.NoError(t, Evaluation{Applicable: true}.Err("X"))

	err := Evaluation{Reason: ReasonExpired, Message: "Coupon has expired"}.Err("OLD")
	var ie *IneligibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ReasonExpired, ie.Reason)
	assert.Contains(t, err.Error(), "OLD")
}
