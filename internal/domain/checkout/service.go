// Package checkout prices carts and places orders.
//
// Pricing is split into a Loader, which fetches every input up front, and a
// pure Builder. Preview and placement share both, so the total a customer
// sees is the total that gets persisted when nothing changed in between.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/customer"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

// DefaultListLimit caps order listings when the caller gives no limit.
const DefaultListLimit = 50

// Deps are the collaborators of a Service. Cache and Events are optional.
type Deps struct {
	Carts     cart.Repository
	Products  product.Repository
	Network   shipping.Directory
	Coupons   coupon.Repository
	Customers customer.Directory
	Addresses customer.AddressBook
	Orders    order.Repository
	Payments  *payment.Store
	Cache     OrderCache
	Events    EventPublisher

	Currency       string
	Clock          func() time.Time // defaults to time.Now
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service exposes the checkout operations.
type Service struct {
	loader    *Loader
	builder   Builder
	placer    *Placer
	coupons   *coupon.Validator
	customers customer.Directory
	network   shipping.Directory
	orders    order.Repository
	payments  *payment.Store
	cache     OrderCache
	tracer    trace.Tracer
}

// NewService wires a Service from d.
func NewService(d Deps) (*Service, error) {
	m, err := NewMetrics(d.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "checkout metrics")
	}

	if d.Clock == nil {
		d.Clock = time.Now
	}
	validator := coupon.NewValidator(d.Coupons, coupon.WithClock(d.Clock))
	loader := NewLoader(d.Carts, d.Products, d.Network, validator, d.Customers, d.Addresses)
	loader.now = d.Clock
	builder := Builder{Currency: d.Currency}

	opts := []PlacerOption{WithMetrics(m)}
	if d.Cache != nil {
		opts = append(opts, WithOrderCache(d.Cache))
	}
	if d.Events != nil {
		opts = append(opts, WithEventPublisher(d.Events))
	}

	return &Service{
		loader:    loader,
		builder:   builder,
		placer:    NewPlacer(loader, builder, d.Payments, d.Orders, opts...),
		coupons:   validator,
		customers: d.Customers,
		network:   d.Network,
		orders:    d.Orders,
		payments:  d.Payments,
		cache:     d.Cache,
		tracer:    d.TracerProvider.Tracer(instrumentationName),
	}, nil
}

// Preview prices req without side effects. The payment method is not
// required for a preview.
func (s *Service) Preview(ctx context.Context, req Request) (_ *Priced, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Preview",
		trace.WithAttributes(attribute.Int64("customer.id", req.CustomerID)))
	defer func() { endSpan(span, rerr) }()

	in, err := s.loader.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(in)
}

// Place commits req as an order.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Place",
		trace.WithAttributes(attribute.Int64("customer.id", req.CustomerID)))
	defer func() { endSpan(span, rerr) }()

	o, err := s.placer.Place(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", o.Number))
	return o, nil
}

// Order reads the frozen snapshot of an order owned by customerID.
func (s *Service) Order(ctx context.Context, customerID int64, number string) (*order.Order, error) {
	o, err := s.lookupOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	return ownedBy(o, customerID)
}

// AdminOrder reads any order regardless of its owner.
func (s *Service) AdminOrder(ctx context.Context, number string) (*order.Order, error) {
	return s.lookupOrder(ctx, number)
}

func (s *Service) lookupOrder(ctx context.Context, number string) (*order.Order, error) {
	if s.cache != nil {
		o, err := s.cache.Get(ctx, number)
		if err != nil {
			zctx.From(ctx).Warn("Read order cache", zap.String("order_number", number), zap.Error(err))
		}
		if o != nil {
			return o, nil
		}
	}

	o, err := s.orders.ByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", number)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, o); err != nil {
			zctx.From(ctx).Warn("Fill order cache", zap.String("order_number", number), zap.Error(err))
		}
	}
	return o, nil
}

func ownedBy(o *order.Order, customerID int64) (*order.Order, error) {
	if o.CustomerID != customerID {
		return nil, errors.Wrapf(order.ErrNotFound, "order %q", o.Number)
	}
	return o, nil
}

// Orders lists the customer's orders, newest first.
func (s *Service) Orders(ctx context.Context, customerID int64, limit int) ([]order.Header, error) {
	return s.AdminOrders(ctx, order.Filter{CustomerID: customerID, Limit: limit})
}

// AdminOrders lists orders across customers, newest first. The limit is
// capped at DefaultListLimit.
func (s *Service) AdminOrders(ctx context.Context, f order.Filter) ([]order.Header, error) {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		f.Limit = DefaultListLimit
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, validation("from must be before to")
	}
	headers, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return headers, nil
}

// ValidateCoupon evaluates a coupon against the customer's cart (or the
// given lines) and reports why it does not apply as an
// *coupon.IneligibleError.
func (s *Service) ValidateCoupon(ctx context.Context, req Request) (*coupon.Coupon, coupon.Evaluation, error) {
	if coupon.NormalizeCode(req.CouponCode) == "" {
		return nil, coupon.Evaluation{}, validation("coupon code is required")
	}
	req.Destination = shipping.Destination{}
	req.ShippingAddressID = 0
	req.BillingAddressID = 0

	in, err := s.loader.Load(ctx, req)
	if err != nil {
		return nil, coupon.Evaluation{}, err
	}
	priced, err := s.builder.Build(in)
	if err != nil {
		return nil, coupon.Evaluation{}, err
	}
	ev := *priced.Coupon
	return in.Coupon, ev, ev.Err(in.CouponCode)
}

// AvailableCoupons lists coupons the customer can currently use.
func (s *Service) AvailableCoupons(ctx context.Context, customerID int64) ([]coupon.Coupon, error) {
	isNew, err := s.customers.IsNewCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "check new customer")
	}
	return s.coupons.Available(ctx, coupon.Customer{ID: customerID, IsNew: isNew})
}

// PaymentMethods lists the enabled payment methods.
func (s *Service) PaymentMethods() []payment.Method {
	return s.payments.Registry().Enabled()
}

// UpdatePaymentMethod replaces one method and publishes a new registry.
func (s *Service) UpdatePaymentMethod(ctx context.Context, m payment.Method) ([]payment.Method, error) {
	if payment.NormalizeKey(m.Key) == "" {
		return nil, validation("payment method key is required")
	}
	r, err := s.payments.Update(m)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	zctx.From(ctx).Info("Payment method updated",
		zap.String("key", payment.NormalizeKey(m.Key)),
		zap.Bool("enabled", m.Enabled),
	)
	return r.Methods(), nil
}

// Quote resolves the shipping cost of a destination.
func (s *Service) Quote(ctx context.Context, dest shipping.Destination) (*shipping.Quote, error) {
	if dest.IsZero() {
		return nil, validation("destination is required")
	}
	p, err := shipping.Locate(ctx, s.network, dest)
	if err != nil {
		return nil, err
	}
	q, err := shipping.Resolve(*p)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Countries lists the countries open for shipping.
func (s *Service) Countries(ctx context.Context) ([]shipping.Option, error) {
	return shipping.EnabledCountries(ctx, s.network)
}

// States lists the enabled states of a country.
func (s *Service) States(ctx context.Context, countryID int64) ([]shipping.Option, error) {
	states, err := shipping.EnabledStates(ctx, s.network, countryID)
	return states, parentNotFound(err)
}

// Cities lists the enabled cities of a state.
func (s *Service) Cities(ctx context.Context, stateID int64) ([]shipping.Option, error) {
	cities, err := shipping.EnabledCities(ctx, s.network, stateID)
	return cities, parentNotFound(err)
}

// parentNotFound reports an unknown parent of a listing as NOT_FOUND rather
// than the VALIDATION it is inside a destination.
func parentNotFound(err error) error {
	var nodeErr *shipping.NodeNotFoundError
	if errors.As(err, &nodeErr) {
		return &Error{Kind: KindNotFound, Message: nodeErr.Error(), Err: err}
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}
