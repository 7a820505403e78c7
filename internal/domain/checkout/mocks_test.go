package checkout

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// --- Mock implementations ---

type mockCartRepo struct {
	mu    sync.Mutex
	carts map[int64]*cart.Cart
}

func (m *mockCartRepo) ByCustomer(_ context.Context, customerID int64) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[customerID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	cp.Lines = slices.Clone(c.Lines)
	return &cp, nil
}

func (m *mockCartRepo) consume(cartID int64, lineIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.carts {
		if c.ID == cartID {
			c.Lines = slices.DeleteFunc(c.Lines, func(l cart.Line) bool {
				return slices.Contains(lineIDs, l.ID)
			})
		}
	}
}

func (m *mockCartRepo) add(customerID int64, l cart.Line) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.carts[customerID]
	c.Lines = append(c.Lines, l)
}

type mockProductRepo struct {
	products map[int64]product.Product
	variants map[int64]product.Variant
	err      error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) VariantsByIDs(_ context.Context, ids []int64) ([]product.Variant, error) {
	var out []product.Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

type mockNetwork struct {
	countries map[int64]*shipping.Country
	states    map[int64]*shipping.State
	cities    map[int64]*shipping.City
}

func (m *mockNetwork) Country(_ context.Context, id int64) (*shipping.Country, error) {
	if c, ok := m.countries[id]; ok {
		return c, nil
	}
	return nil, &shipping.NodeNotFoundError{Tier: shipping.TierCountry, ID: id}
}

func (m *mockNetwork) State(_ context.Context, id int64) (*shipping.State, error) {
	if s, ok := m.states[id]; ok {
		return s, nil
	}
	return nil, &shipping.NodeNotFoundError{Tier: shipping.TierState, ID: id}
}

func (m *mockNetwork) City(_ context.Context, id int64) (*shipping.City, error) {
	if c, ok := m.cities[id]; ok {
		return c, nil
	}
	return nil, &shipping.NodeNotFoundError{Tier: shipping.TierCity, ID: id}
}

func (m *mockNetwork) AreaRate(context.Context, int64, int64, int64) (*shipping.AreaRate, error) {
	return nil, nil
}

func (m *mockNetwork) Countries(context.Context) ([]shipping.Country, error) {
	var out []shipping.Country
	for _, c := range m.countries {
		if c.Enabled {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b shipping.Country) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *mockNetwork) StatesOf(_ context.Context, countryID int64) ([]shipping.State, error) {
	var out []shipping.State
	for _, s := range m.states {
		if s.Enabled && s.CountryID == countryID {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b shipping.State) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *mockNetwork) CitiesOf(_ context.Context, stateID int64) ([]shipping.City, error) {
	var out []shipping.City
	for _, c := range m.cities {
		if c.Enabled && c.StateID == stateID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b shipping.City) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

type mockCouponRepo struct {
	coupons map[string]coupon.Coupon
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

func (m *mockCouponRepo) ListEnabled(context.Context) ([]coupon.Coupon, error) {
	out := make([]coupon.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, c)
	}
	return out, nil
}

type mockCustomers struct {
	customers map[int64]customer.Customer
	isNew     map[int64]bool
	addresses map[int64]customer.Address
}

func (m *mockCustomers) Customer(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

func (m *mockCustomers) IsNewCustomer(_ context.Context, id int64) (bool, error) {
	return m.isNew[id], nil
}

func (m *mockCustomers) Address(_ context.Context, customerID, addressID int64) (*customer.Address, error) {
	a, ok := m.addresses[addressID]
	if !ok || a.CustomerID != customerID {
		return nil, customer.ErrAddressNotFound
	}
	return &a, nil
}

// mockOrderRepo allocates numbers from a counter. conflicts makes the next N
// Create calls fail with ErrNumberConflict.
type mockOrderRepo struct {
	mu        sync.Mutex
	seq       int64
	conflicts int
	createErr error
	orders    map[string]*order.Order
	byKey     map[string]*order.Order
	carts     *mockCartRepo
	creates   int

	lastFilter order.Filter
	// beforeCreate runs after pricing, before the order is stored.
	beforeCreate func()
}

func newMockOrderRepo(carts *mockCartRepo) *mockOrderRepo {
	return &mockOrderRepo{
		seq:    999,
		orders: make(map[string]*order.Order),
		byKey:  make(map[string]*order.Order),
		carts:  carts,
	}
}

func (m *mockOrderRepo) NextNumber(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("ORD-%d", m.seq), nil
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order, cartID int64) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return order.ErrNumberConflict
	}
	if _, taken := m.orders[o.Number]; taken {
		return order.ErrNumberConflict
	}
	if o.IdempotencyKey != "" {
		k := fmt.Sprintf("%d/%s", o.CustomerID, o.IdempotencyKey)
		if _, dup := m.byKey[k]; dup {
			return order.ErrDuplicateIdempotencyKey
		}
		m.byKey[k] = o
	}
	o.ID = int64(len(m.orders) + 1)
	o.CreatedAt = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	o.UpdatedAt = o.CreatedAt
	m.orders[o.Number] = o
	if m.carts != nil && cartID != 0 {
		m.carts.consume(cartID, o.CartLineIDs())
	}
	return nil
}

func (m *mockOrderRepo) ByNumber(_ context.Context, number string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) ByIdempotencyKey(_ context.Context, customerID int64, key string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byKey[fmt.Sprintf("%d/%s", customerID, key)]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) List(_ context.Context, f order.Filter) ([]order.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	var out []order.Header
	for _, o := range m.orders {
		if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
			continue
		}
		if f.PaymentMethod != "" && o.PaymentMethod.Key != f.PaymentMethod {
			continue
		}
		out = append(out, order.Header{
			Number:        o.Number,
			CustomerID:    o.CustomerID,
			Status:        o.Status,
			PaymentMethod: o.PaymentMethod.Key,
			GrandTotal:    o.GrandTotal,
		})
	}
	slices.SortFunc(out, func(a, b order.Header) int { return cmp.Compare(a.Number, b.Number) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type mockCache struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	setErr error
	gets   int
}

func (m *mockCache) Get(_ context.Context, number string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.orders[number], nil
}

func (m *mockCache) Set(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.orders == nil {
		m.orders = make(map[string]*order.Order)
	}
	m.orders[o.Number] = o
	return nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (m *mockPublisher) PublishOrderPlaced(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, o.Number)
	return nil
}

// --- Fixture ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

const (
	customerID  int64 = 7
	addressID   int64 = 70
	productA    int64 = 1
	productB    int64 = 2
	countryID   int64 = 100
	stateID     int64 = 200
	noShipState int64 = 201
)

type fixture struct {
	carts     *mockCartRepo
	products  *mockProductRepo
	network   *mockNetwork
	coupons   *mockCouponRepo
	customers *mockCustomers
	orders    *mockOrderRepo
}

// newFixture builds the reference scenario: product A at 10.00 with a 5%
// tax, quantity 2 in the cart, shipping to a country costing 7.50.
func newFixture() *fixture {
	carts := &mockCartRepo{carts: map[int64]*cart.Cart{
		customerID: {
			ID:         11,
			CustomerID: customerID,
			Lines: []cart.Line{
				{ID: 1, ProductID: productA, Quantity: 2, UnitPrice: d("10.00")},
			},
		},
	}}
	f := &fixture{
		carts: carts,
		products: &mockProductRepo{
			products: map[int64]product.Product{
				productA: {
					ID: productA, Name: "Tea", CategoryID: 10, Price: d("10.00"), Active: true,
					TaxRules: []tax.Rule{{ID: 1, ProductID: productA, Name: "GST", Kind: tax.KindPercentage, Value: d("5")}},
				},
				productB: {ID: productB, Name: "Mug", CategoryID: 20, Price: d("4.50"), Active: true},
			},
			variants: map[int64]product.Variant{
				21: {ID: 21, ProductID: productB, SKU: "MUG-L", Label: "Large", Price: d("6.00")},
			},
		},
		network: &mockNetwork{
			countries: map[int64]*shipping.Country{
				countryID: {ID: countryID, Name: "India", Enabled: true, Cost: d("7.50")},
				999:       {ID: 999, Name: "Closed", Enabled: false, Cost: d("1.00")},
			},
			states: map[int64]*shipping.State{
				stateID:     {ID: stateID, CountryID: countryID, Name: "Kerala", Enabled: true},
				noShipState: {ID: noShipState, CountryID: 999, Name: "Nowhere", Enabled: false},
			},
			cities: map[int64]*shipping.City{},
		},
		coupons: &mockCouponRepo{coupons: map[string]coupon.Coupon{
			"FLAT5": {
				ID: 1, Name: "Five off", Code: "FLAT5", Type: coupon.TypeCartValue,
				DiscountKind: coupon.DiscountFlat, DiscountValue: d("5.00"),
				MinimumCartValue: ptr(d("15.00")),
				StartsAt:         fixedNow.Add(-24 * time.Hour), EndsAt: fixedNow.Add(24 * time.Hour),
				Status: coupon.StatusEnabled,
			},
			"OLD": {
				ID: 2, Name: "Old", Code: "OLD", Type: coupon.TypeCartValue,
				DiscountKind: coupon.DiscountFlat, DiscountValue: d("5.00"),
				StartsAt: fixedNow.Add(-48 * time.Hour), EndsAt: fixedNow.Add(-24 * time.Hour),
				Status: coupon.StatusEnabled,
			},
		}},
		customers: &mockCustomers{
			customers: map[int64]customer.Customer{
				customerID: {ID: customerID, Email: "asha@example.com", FullName: "Asha Nair"},
			},
			isNew: map[int64]bool{},
			addresses: map[int64]customer.Address{
				addressID: {
					ID: addressID, CustomerID: customerID, FullName: "Asha Nair",
					Line1: "1 MG Road", PinCode: "682001", CountryID: countryID, CountryName: "India",
				},
				71: {ID: 71, CustomerID: customerID, Line1: "Nowhere", StateID: noShipState},
			},
		},
	}
	f.orders = newMockOrderRepo(carts)
	return f
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func (f *fixture) loader() *Loader {
	l := NewLoader(f.carts, f.products, f.network, coupon.NewValidator(f.coupons), f.customers, f.customers)
	l.now = func() time.Time { return fixedNow }
	return l
}

func (f *fixture) placer(opts ...PlacerOption) *Placer {
	return NewPlacer(f.loader(), Builder{Currency: "INR"}, testPayments(), f.orders, opts...)
}
