package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/checkout"

// Metrics records checkout counters. A nil *Metrics records nothing.
type Metrics struct {
	placed     metric.Int64Counter
	failed     metric.Int64Counter
	rejections metric.Int64Counter
	grandTotal metric.Float64Histogram
}

// NewMetrics registers the checkout instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	placed, err := meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders committed"))
	if err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	failed, err := meter.Int64Counter("checkout.orders.failed",
		metric.WithDescription("Placement attempts rejected or failed, by kind"))
	if err != nil {
		return nil, errors.Wrap(err, "orders failed counter")
	}
	rejections, err := meter.Int64Counter("checkout.coupons.rejected",
		metric.WithDescription("Requested coupons that did not apply, by reason"))
	if err != nil {
		return nil, errors.Wrap(err, "coupon rejections counter")
	}
	grandTotal, err := meter.Float64Histogram("checkout.orders.grand_total",
		metric.WithDescription("Grand total of placed orders"))
	if err != nil {
		return nil, errors.Wrap(err, "grand total histogram")
	}

	return &Metrics{
		placed:     placed,
		failed:     failed,
		rejections: rejections,
		grandTotal: grandTotal,
	}, nil
}

func (m *Metrics) orderPlaced(ctx context.Context, o *order.Order) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("currency", o.Summary.Currency))
	m.placed.Add(ctx, 1, attrs)
	m.grandTotal.Record(ctx, o.GrandTotal.InexactFloat64(), attrs)
}

func (m *Metrics) placementFailed(ctx context.Context, kind Kind) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) couponRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
