package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

func testPayments() *payment.Store {
	r, err := payment.NewRegistry(
		payment.Method{Key: payment.KeyCashOnDelivery, DisplayName: "Cash on Delivery", Enabled: true},
		payment.Method{Key: "CARD", DisplayName: "Card", Enabled: false},
	)
	if err != nil {
		panic(err)
	}
	return payment.NewStore(r)
}

func placeReq() PlaceRequest {
	return PlaceRequest{Request: Request{
		CustomerID:        customerID,
		ShippingAddressID: addressID,
		SameAsShipping:    true,
		PaymentMethodKey:  "cod",
	}}
}

func TestPlace(t *testing.T) {
	f := newFixture()
	cache := &mockCache{}
	events := &mockPublisher{}

	o, err := f.placer(WithOrderCache(cache), WithEventPublisher(events)).Place(context.Background(), placeReq())
	require.NoError(t, err)

	assert.Equal(t, "ORD-1000", o.Number)
	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.Equal(t, customerID, o.CustomerID)
	assert.Equal(t, "asha@example.com", o.CustomerEmail)
	assert.Equal(t, payment.KeyCashOnDelivery, o.PaymentMethod.Key)
	assert.Equal(t, addressID, o.ShippingAddress.ID)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)
	assertMoney(t, "28.50", o.GrandTotal)
	assert.Nil(t, o.DiscountAmount)
	require.Len(t, o.Lines, 1)
	assertMoney(t, "1.00", o.Lines[0].TaxAmount)

	assert.True(t, f.carts.carts[customerID].IsEmpty(), "cart must be cleared")
	assert.Contains(t, cache.orders, o.Number)
	assert.Equal(t, []string{o.Number}, events.published)

	_, err = f.placer().Place(context.Background(), placeReq())
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err), "cleared cart cannot be placed again")
}

func TestPlace_KeepsLinesAddedAfterPricing(t *testing.T) {
	f := newFixture()
	late := cart.Line{ID: 2, ProductID: productB, Quantity: 1, UnitPrice: d("4.50")}
	f.orders.beforeCreate = func() { f.carts.add(customerID, late) }

	o, err := f.placer().Place(context.Background(), placeReq())
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, int64(1), o.Lines[0].CartLineID)
	assert.Equal(t, []int64{1}, o.CartLineIDs())

	assert.Equal(t, []cart.Line{late}, f.carts.carts[customerID].Lines, "unpriced line stays in the cart")
}

func TestPlace_WithCoupon(t *testing.T) {
	f := newFixture()
	req := placeReq()
	req.CouponCode = "flat5"

	o, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)

	assertMoney(t, "23.50", o.GrandTotal)
	assert.Equal(t, "FLAT5", o.CouponCode)
	assert.Equal(t, "FLAT", o.DiscountKind)
	require.NotNil(t, o.DiscountAmount)
	assertMoney(t, "5.00", *o.DiscountAmount)
}

func TestPlace_ExpiredCouponStillPlaces(t *testing.T) {
	f := newFixture()
	req := placeReq()
	req.CouponCode = "OLD"

	o, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)

	assertMoney(t, "28.50", o.GrandTotal)
	assert.Empty(t, o.CouponCode)
	require.NotNil(t, o.Summary.CouponRejection)
	assert.Equal(t, "EXPIRED", o.Summary.CouponRejection.Reason)
}

func TestPlace_MatchesPreview(t *testing.T) {
	f := newFixture()
	req := placeReq()
	req.CouponCode = "FLAT5"

	priced := preview(t, f, req.Request)
	o, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)

	if diff := cmp.Diff(priced.Summary, o.Summary, decimalEqual); diff != "" {
		t.Errorf("placed summary differs from preview (-preview +placed):\n%s", diff)
	}
	if diff := cmp.Diff(priced.Lines, o.Lines, decimalEqual); diff != "" {
		t.Errorf("placed lines differ from preview (-preview +placed):\n%s", diff)
	}
}

func TestPlace_RepricesFromCurrentState(t *testing.T) {
	f := newFixture()
	req := placeReq()

	before := preview(t, f, req.Request)
	assertMoney(t, "28.50", before.Summary.GrandTotal)

	f.network.countries[countryID].Cost = d("9.00")

	o, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)
	assertMoney(t, "30.00", o.GrandTotal)
}

func TestPlace_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*PlaceRequest)
		wantKind Kind
	}{
		{
			name:     "no shipping address",
			mutate:   func(r *PlaceRequest) { r.ShippingAddressID = 0 },
			wantKind: KindValidation,
		},
		{
			name: "no billing address",
			mutate: func(r *PlaceRequest) {
				r.SameAsShipping = false
				r.BillingAddressID = 0
			},
			wantKind: KindValidation,
		},
		{
			name:     "no payment method",
			mutate:   func(r *PlaceRequest) { r.PaymentMethodKey = " " },
			wantKind: KindValidation,
		},
		{
			name:     "disabled payment method",
			mutate:   func(r *PlaceRequest) { r.PaymentMethodKey = "card" },
			wantKind: KindPaymentUnavailable,
		},
		{
			name:     "unknown payment method",
			mutate:   func(r *PlaceRequest) { r.PaymentMethodKey = "crypto" },
			wantKind: KindPaymentUnavailable,
		},
		{
			name:     "not shippable",
			mutate:   func(r *PlaceRequest) { r.ShippingAddressID = 71 },
			wantKind: KindNotShippable,
		},
		{
			name:     "unknown billing address",
			mutate:   func(r *PlaceRequest) { r.SameAsShipping = false; r.BillingAddressID = 404 },
			wantKind: KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := placeReq()
			tt.mutate(&req)

			_, err := f.placer().Place(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err), err.Error())
			assert.Zero(t, f.orders.creates, "nothing may be persisted")
			assert.False(t, f.carts.carts[customerID].IsEmpty(), "cart must be kept")
		})
	}
}

func TestPlace_PaymentUnavailableMessage(t *testing.T) {
	f := newFixture()
	req := placeReq()
	req.PaymentMethodKey = "CARD"

	_, err := f.placer().Place(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "Selected payment method is not available", Message(err))
}

func TestPlace_NumberConflict(t *testing.T) {
	t.Run("retried once", func(t *testing.T) {
		f := newFixture()
		f.orders.conflicts = 1

		o, err := f.placer().Place(context.Background(), placeReq())
		require.NoError(t, err)
		assert.Equal(t, "ORD-1001", o.Number)
		assert.Equal(t, 2, f.orders.creates)
	})
	t.Run("second conflict is fatal", func(t *testing.T) {
		f := newFixture()
		f.orders.conflicts = 2

		_, err := f.placer().Place(context.Background(), placeReq())
		require.Error(t, err)
		assert.Equal(t, KindFatal, KindOf(err))
		assert.ErrorIs(t, err, order.ErrNumberConflict)
		assert.Equal(t, 2, f.orders.creates)
		assert.False(t, f.carts.carts[customerID].IsEmpty())
	})
}

func TestPlace_StorageFailure(t *testing.T) {
	f := newFixture()
	f.orders.createErr = errors.New("connection reset")

	_, err := f.placer().Place(context.Background(), placeReq())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
}

func TestPlace_Idempotent(t *testing.T) {
	f := newFixture()
	req := placeReq()
	req.IdempotencyKey = "b7f1c2"

	first, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)
	second, err := f.placer().Place(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, 1, f.orders.creates)
}

// racyOrderRepo misses the idempotency key on the first lookup, as if a
// concurrent request committed between lookup and insert.
type racyOrderRepo struct {
	*mockOrderRepo
	once sync.Once
}

func (r *racyOrderRepo) ByIdempotencyKey(ctx context.Context, customerID int64, key string) (*order.Order, error) {
	missed := false
	r.once.Do(func() { missed = true })
	if missed {
		return nil, order.ErrNotFound
	}
	return r.mockOrderRepo.ByIdempotencyKey(ctx, customerID, key)
}

func TestPlace_IdempotencyKeyRace(t *testing.T) {
	f := newFixture()
	winner := &order.Order{Number: "ORD-555", CustomerID: customerID, IdempotencyKey: "k1"}
	f.orders.byKey["7/k1"] = winner

	p := NewPlacer(f.loader(), Builder{}, testPayments(), &racyOrderRepo{mockOrderRepo: f.orders})
	req := placeReq()
	req.IdempotencyKey = "k1"

	o, err := p.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ORD-555", o.Number)
}

func TestPlace_SideEffectFailuresDoNotFail(t *testing.T) {
	f := newFixture()
	cache := &mockCache{setErr: errors.New("redis down")}
	events := &mockPublisher{err: errors.New("kafka down")}

	o, err := f.placer(WithOrderCache(cache), WithEventPublisher(events)).Place(context.Background(), placeReq())
	require.NoError(t, err)
	assert.NotEmpty(t, o.Number)

	stored, err := f.orders.ByNumber(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Same(t, o, stored)
}

func TestPlace_ConcurrentNumbersUnique(t *testing.T) {
	f := newFixture()
	p := f.placer()

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := placeReq()
			req.Lines = []RequestLine{{ProductID: productA, Quantity: 1}}
			o, err := p.Place(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[o.Number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, n)
}
