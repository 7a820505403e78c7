// Package kafka publishes order lifecycle events.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// EventType names an order event.
type EventType string

const EventTypeOrderPlaced EventType = "order.placed"

const (
	headerEventType = "event_type"
	headerEventID   = "event_id"
)

// Event is the message body.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    int64           `json:"customer_id"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// OrderPlaced is the payload of an order.placed event.
type OrderPlaced struct {
	Number        string `json:"number"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	GrandTotal    string `json:"grand_total"`
	CouponCode    string `json:"coupon_code,omitempty"`
	PaymentMethod string `json:"payment_method"`
	Lines         int    `json:"lines"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config of the publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	// BatchTimeout is how long the writer waits to fill a batch before
	// flushing. Each publish is a single message, so keep it small.
	BatchTimeout time.Duration
}

const (
	defaultWriteTimeout = 2 * time.Second
	defaultBatchTimeout = 5 * time.Millisecond
)

// Publisher writes order events keyed by order number, so events of one
// order land on one partition.
type Publisher struct {
	writer  messageWriter
	now     func() time.Time
	timeout time.Duration
}

// NewPublisher creates a Publisher writing to cfg.Topic.
func NewPublisher(cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	return newPublisher(newWriter(cfg), time.Now, cfg.WriteTimeout)
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	return c
}

func newWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func newPublisher(w messageWriter, now func() time.Time, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Publisher{writer: w, now: now, timeout: timeout}
}

// PublishOrderPlaced announces a committed order.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(OrderPlaced{
		Number:        o.Number,
		Status:        string(o.Status),
		Currency:      o.Summary.Currency,
		GrandTotal:    o.GrandTotal.StringFixed(2),
		CouponCode:    o.CouponCode,
		PaymentMethod: o.PaymentMethod.Key,
		Lines:         len(o.Lines),
	})
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	ts := p.now().UTC()
	ev := Event{
		ID:            ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String(),
		Type:          EventTypeOrderPlaced,
		OrderNumber:   o.Number,
		CustomerID:    o.CustomerID,
		Data:          data,
		Timestamp:     ts,
		CorrelationID: httpmiddleware.RequestIDFromContext(ctx),
	}
	return p.publish(ctx, ev)
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(ev.OrderNumber),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(ev.Type)},
			{Key: headerEventID, Value: []byte(ev.ID)},
		},
		Time: ev.Timestamp,
	}
	// The order is already committed: a client hanging up must not abort the
	// event, and a slow broker must not hold the response past p.timeout.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(wctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %q", ev.Type, ev.OrderNumber)
	}

	zctx.From(ctx).Debug("Event published",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("order_number", ev.OrderNumber),
	)
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
