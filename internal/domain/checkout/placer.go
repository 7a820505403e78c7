package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// PaymentResolver resolves an enabled payment method. *payment.Store
// implements it.
type PaymentResolver interface {
	Resolve(key string) (payment.Method, error)
}

// OrderCache holds frozen orders for fast reads. Get returns (nil, nil) on a
// miss.
type OrderCache interface {
	Get(ctx context.Context, number string) (*order.Order, error)
	Set(ctx context.Context, o *order.Order) error
}

// EventPublisher announces committed orders.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, o *order.Order) error
}

// PlaceRequest is a Request plus an optional client idempotency key.
type PlaceRequest struct {
	Request
	IdempotencyKey string
}

// Placer re-prices a checkout against current state and commits it as an
// immutable order.
type Placer struct {
	loader   *Loader
	builder  Builder
	payments PaymentResolver
	orders   order.Repository
	cache    OrderCache
	events   EventPublisher
	metrics  *Metrics
}

// PlacerOption configures optional Placer collaborators.
type PlacerOption func(*Placer)

// WithOrderCache writes committed orders through to c.
func WithOrderCache(c OrderCache) PlacerOption {
	return func(p *Placer) { p.cache = c }
}

// WithEventPublisher publishes committed orders to e.
func WithEventPublisher(e EventPublisher) PlacerOption {
	return func(p *Placer) { p.events = e }
}

// WithMetrics records placement outcomes on m.
func WithMetrics(m *Metrics) PlacerOption {
	return func(p *Placer) { p.metrics = m }
}

// NewPlacer creates a Placer.
func NewPlacer(
	loader *Loader,
	builder Builder,
	payments PaymentResolver,
	orders order.Repository,
	opts ...PlacerOption,
) *Placer {
	p := &Placer{
		loader:   loader,
		builder:  builder,
		payments: payments,
		orders:   orders,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Place validates and prices req from current state, then persists the order
// and clears the cart atomically. An order number conflict is retried once
// with a fresh number. A repeated idempotency key returns the order placed
// first, without re-pricing.
func (p *Placer) Place(ctx context.Context, req PlaceRequest) (_ *order.Order, rerr error) {
	defer func() {
		if rerr != nil {
			p.metrics.placementFailed(ctx, KindOf(rerr))
		}
	}()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validatePlaceRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := p.orders.ByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, errors.Wrap(err, "lookup idempotency key")
		}
	}

	in, err := p.loader.Load(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	priced, err := p.builder.Build(in)
	if err != nil {
		return nil, err
	}
	if priced.Summary.Shipping == nil || in.ShippingAddress == nil {
		return nil, &Error{Kind: KindNotShippable, Message: "no shippable destination"}
	}
	if in.BillingAddress == nil {
		return nil, validation("billing address is required")
	}
	method, err := p.payments.Resolve(req.PaymentMethodKey)
	if err != nil {
		return nil, err
	}
	if priced.Coupon != nil && !priced.Coupon.Applicable {
		p.metrics.couponRejected(ctx, string(priced.Coupon.Reason))
	}

	o := newOrder(in, priced, method, req.IdempotencyKey)

	lg := zctx.From(ctx)
	for attempt := 0; ; attempt++ {
		number, err := p.orders.NextNumber(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "allocate order number")
		}
		o.Number = number

		err = p.orders.Create(ctx, o, in.CartID)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, order.ErrNumberConflict) && attempt == 0:
			lg.Warn("Order number conflict, retrying", zap.String("order_number", number))
			continue
		case errors.Is(err, order.ErrNumberConflict):
			return nil, &Error{Kind: KindFatal, Message: "could not allocate a unique order number", Err: err}
		case errors.Is(err, order.ErrDuplicateIdempotencyKey):
			existing, lookupErr := p.orders.ByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, errors.Wrap(lookupErr, "lookup idempotency key after conflict")
			}
			return existing, nil
		default:
			return nil, errors.Wrap(err, "create order")
		}
	}

	lg.Info("Order placed",
		zap.String("order_number", o.Number),
		zap.Int64("customer_id", o.CustomerID),
		zap.Stringer("grand_total", o.GrandTotal),
	)
	p.metrics.orderPlaced(ctx, o)
	p.afterCommit(ctx, o)

	return o, nil
}

// afterCommit runs best-effort side effects. Failures are logged and never
// undo the commit.
func (p *Placer) afterCommit(ctx context.Context, o *order.Order) {
	lg := zctx.From(ctx)
	if p.cache != nil {
		if err := p.cache.Set(ctx, o); err != nil {
			lg.Warn("Cache placed order", zap.String("order_number", o.Number), zap.Error(err))
		}
	}
	if p.events != nil {
		if err := p.events.PublishOrderPlaced(ctx, o); err != nil {
			lg.Warn("Publish order placed", zap.String("order_number", o.Number), zap.Error(err))
		}
	}
}

func validatePlaceRequest(req PlaceRequest) error {
	switch {
	case req.ShippingAddressID <= 0:
		return validation("shipping address is required")
	case !req.SameAsShipping && req.BillingAddressID <= 0:
		return validation("billing address is required")
	case strings.TrimSpace(req.PaymentMethodKey) == "":
		return validation("payment method is required")
	case len(req.IdempotencyKey) > 128:
		return validation("idempotency key is too long")
	}
	return nil
}

func newOrder(in *Inputs, priced *Priced, method payment.Method, idempotencyKey string) *order.Order {
	o := &order.Order{
		CustomerID:      in.Customer.ID,
		CustomerEmail:   in.Customer.Email,
		CustomerName:    in.Customer.FullName,
		Status:          order.StatusProcessing,
		Lines:           priced.Lines,
		ShippingAddress: *in.ShippingAddress,
		BillingAddress:  *in.BillingAddress,
		PaymentMethod:   method,
		Summary:         priced.Summary,
		GrandTotal:      priced.Summary.GrandTotal,
		IdempotencyKey:  idempotencyKey,
	}
	if applied := priced.Summary.Coupon; applied != nil {
		amount := applied.Amount
		o.CouponCode = applied.Code
		o.DiscountKind = applied.Kind
		o.DiscountAmount = &amount
	}
	return o
}

var _ PaymentResolver = (*payment.Store)(nil)

var _ CouponLookup = (*coupon.Validator)(nil)
