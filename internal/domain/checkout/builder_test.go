package checkout

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func preview(t *testing.T, f *fixture, req Request) *Priced {
	t.Helper()
	in, err := f.loader().Load(context.Background(), req)
	require.NoError(t, err)
	priced, err := Builder{Currency: "INR"}.Build(in)
	require.NoError(t, err)
	return priced
}

func TestBuild_Scenarios(t *testing.T) {
	dest := shipping.Destination{CountryID: countryID}

	tests := []struct {
		name         string
		couponCode   string
		wantDiscount string
		wantGrand    string
		wantReason   coupon.Reason
	}{
		{
			name:         "no coupon",
			wantDiscount: "0",
			wantGrand:    "28.50",
		},
		{
			name:         "flat coupon above minimum",
			couponCode:   "flat5",
			wantDiscount: "5.00",
			wantGrand:    "23.50",
		},
		{
			name:         "expired coupon is reported and ignored",
			couponCode:   "OLD",
			wantDiscount: "0",
			wantGrand:    "28.50",
			wantReason:   coupon.ReasonExpired,
		},
		{
			name:         "unknown coupon is reported and ignored",
			couponCode:   "NOPE",
			wantDiscount: "0",
			wantGrand:    "28.50",
			wantReason:   coupon.ReasonNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			priced := preview(t, f, Request{CustomerID: customerID, Destination: dest, CouponCode: tt.couponCode})
			s := priced.Summary

			assert.Equal(t, "INR", s.Currency)
			assertMoney(t, "20.00", s.ProductTotal)
			assertMoney(t, "1.00", s.TaxTotal)
			assertMoney(t, "7.50", s.ShippingTotal)
			assertMoney(t, tt.wantDiscount, s.DiscountTotal)
			assertMoney(t, tt.wantGrand, s.GrandTotal)

			require.Len(t, s.TaxLines, 1)
			assert.Equal(t, productA, s.TaxLines[0].ProductID)
			assertMoney(t, "0.05", s.TaxLines[0].Rate)
			assertMoney(t, "1.00", s.TaxLines[0].Amount)

			require.NotNil(t, s.Shipping)
			assert.Equal(t, shipping.TierCountry, s.Shipping.Source)

			if tt.couponCode == "" {
				assert.Nil(t, priced.Coupon)
				assert.Nil(t, s.Coupon)
				assert.Nil(t, s.CouponRejection)
				return
			}
			require.NotNil(t, priced.Coupon)
			if tt.wantReason == "" {
				assert.True(t, priced.Coupon.Applicable)
				require.NotNil(t, s.Coupon)
				assert.Equal(t, "FLAT5", s.Coupon.Code)
				assert.Nil(t, s.CouponRejection)
				return
			}
			assert.False(t, priced.Coupon.Applicable)
			assert.Nil(t, s.Coupon)
			require.NotNil(t, s.CouponRejection)
			assert.Equal(t, string(tt.wantReason), s.CouponRejection.Reason)
		})
	}
}

func TestBuild_WithoutDestination(t *testing.T) {
	priced := preview(t, newFixture(), Request{CustomerID: customerID})

	assert.Nil(t, priced.Summary.Shipping)
	assertMoney(t, "0", priced.Summary.ShippingTotal)
	assertMoney(t, "21.00", priced.Summary.GrandTotal)
}

func TestBuild_NotShippable(t *testing.T) {
	f := newFixture()
	in, err := f.loader().Load(context.Background(), Request{
		CustomerID:  customerID,
		Destination: shipping.Destination{StateID: noShipState},
	})
	require.NoError(t, err)

	_, err = Builder{}.Build(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, shipping.ErrNotShippable)
	assert.Equal(t, KindNotShippable, KindOf(err))
}

func TestBuild_Deterministic(t *testing.T) {
	f := newFixture()
	req := Request{CustomerID: customerID, Destination: shipping.Destination{CountryID: countryID}, CouponCode: "FLAT5"}
	in, err := f.loader().Load(context.Background(), req)
	require.NoError(t, err)

	first, err := Builder{Currency: "INR"}.Build(in)
	require.NoError(t, err)
	for range 10 {
		again, err := Builder{Currency: "INR"}.Build(in)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again, decimalEqual); diff != "" {
			t.Fatalf("Build() not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestBuild_ExplicitLinesUseCatalogPrices(t *testing.T) {
	f := newFixture()
	priced := preview(t, f, Request{
		CustomerID: customerID,
		Lines: []RequestLine{
			{ProductID: productB, VariantID: 21, Quantity: 2},
			{ProductID: productB, Quantity: 1},
		},
	})

	require.Len(t, priced.Lines, 2)
	assertMoney(t, "6.00", priced.Lines[0].UnitPrice)
	assertMoney(t, "12.00", priced.Lines[0].LineTotal)
	assert.Equal(t, "MUG-L", priced.Lines[0].VariantSKU)
	assert.Nil(t, priced.Lines[0].TaxRate)
	assertMoney(t, "4.50", priced.Lines[1].UnitPrice)

	assertMoney(t, "16.50", priced.Summary.ProductTotal)
	assertMoney(t, "0", priced.Summary.TaxTotal)
	assert.Empty(t, priced.Summary.TaxLines)
}

func TestBuild_CartLinesKeepSnapshotPrice(t *testing.T) {
	f := newFixture()
	p := f.products.products[productA]
	p.Price = d("99.00")
	f.products.products[productA] = p

	priced := preview(t, f, Request{CustomerID: customerID})
	assertMoney(t, "10.00", priced.Lines[0].UnitPrice)
	assertMoney(t, "20.00", priced.Summary.ProductTotal)
}

func TestBuild_DiscountNeverExceedsTotal(t *testing.T) {
	in := &Inputs{
		Customer: newFixture().customers.customers[customerID],
		Lines:    []cart.Line{{ID: 1, ProductID: productB, Quantity: 1, UnitPrice: d("3.00")}},
		Products: map[int64]product.Product{
			productB: {ID: productB, CategoryID: 20, Price: d("3.00")},
		},
		CouponCode: "BIG",
		Coupon: &coupon.Coupon{
			Code: "BIG", Type: coupon.TypeCartValue, Status: coupon.StatusEnabled,
			DiscountKind: coupon.DiscountFlat, DiscountValue: d("50.00"),
			StartsAt: fixedNow.Add(-1), EndsAt: fixedNow.Add(1),
		},
		Now: fixedNow,
	}

	priced, err := Builder{}.Build(in)
	require.NoError(t, err)
	assertMoney(t, "3.00", priced.Summary.DiscountTotal)
	assertMoney(t, "0", priced.Summary.GrandTotal)
	assert.False(t, priced.Summary.GrandTotal.IsNegative())
}

func TestBuild_Rounding(t *testing.T) {
	in := &Inputs{
		Lines: []cart.Line{{ProductID: productA, Quantity: 3, UnitPrice: d("3.33")}},
		Products: map[int64]product.Product{
			productA: {ID: productA, TaxRules: []tax.Rule{
				{Kind: tax.KindPercentage, Value: d("7.5")},
			}},
		},
	}

	priced, err := Builder{}.Build(in)
	require.NoError(t, err)
	// 9.99 * 0.075 = 0.74925
	assertMoney(t, "9.99", priced.Summary.ProductTotal)
	assertMoney(t, "0.75", priced.Summary.TaxTotal)
	assertMoney(t, "10.74", priced.Summary.GrandTotal)
}

func TestBuild_EmptyInputs(t *testing.T) {
	_, err := Builder{}.Build(&Inputs{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fixture)
		req      Request
		wantKind Kind
	}{
		{
			name:     "missing customer id",
			req:      Request{},
			wantKind: KindValidation,
		},
		{
			name:     "non-positive quantity",
			req:      Request{CustomerID: customerID, Lines: []RequestLine{{ProductID: productA, Quantity: 0}}},
			wantKind: KindValidation,
		},
		{
			name:     "empty cart",
			mutate:   func(f *fixture) { f.carts.carts[customerID].Lines = nil },
			req:      Request{CustomerID: customerID},
			wantKind: KindValidation,
		},
		{
			name:     "no cart at all",
			mutate:   func(f *fixture) { delete(f.carts.carts, customerID) },
			req:      Request{CustomerID: customerID},
			wantKind: KindValidation,
		},
		{
			name:     "unknown customer",
			req:      Request{CustomerID: 404},
			wantKind: KindNotFound,
		},
		{
			name:     "unknown product",
			req:      Request{CustomerID: customerID, Lines: []RequestLine{{ProductID: 404, Quantity: 1}}},
			wantKind: KindValidation,
		},
		{
			name:     "variant of another product",
			req:      Request{CustomerID: customerID, Lines: []RequestLine{{ProductID: productA, VariantID: 21, Quantity: 1}}},
			wantKind: KindValidation,
		},
		{
			name:     "unknown country",
			req:      Request{CustomerID: customerID, Destination: shipping.Destination{CountryID: 404}},
			wantKind: KindValidation,
		},
		{
			name:     "state outside country",
			req:      Request{CustomerID: customerID, Destination: shipping.Destination{CountryID: countryID, StateID: noShipState}},
			wantKind: KindValidation,
		},
		{
			name:     "address of another customer",
			mutate:   func(f *fixture) { f.customers.customers[8] = f.customers.customers[customerID] },
			req:      Request{CustomerID: 8, Lines: []RequestLine{{ProductID: productA, Quantity: 1}}, ShippingAddressID: addressID},
			wantKind: KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.mutate != nil {
				tt.mutate(f)
			}
			_, err := f.loader().Load(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err), err.Error())
		})
	}
}
