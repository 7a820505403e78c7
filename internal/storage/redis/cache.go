// Package redis caches frozen order snapshots.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	DefaultKeyPrefix = "order:"
	DefaultTTL       = 5 * time.Minute
)

// client is the subset of *redis.Client the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ client = (*redis.Client)(nil)

// OrderCache stores orders as versioned snapshot documents keyed by order
// number. Orders never change after placement, so entries only expire.
type OrderCache struct {
	client client
	prefix string
	ttl    time.Duration
}

// NewOrderCache creates an OrderCache. Zero prefix or ttl select the
// defaults.
func NewOrderCache(c client, prefix string, ttl time.Duration) *OrderCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &OrderCache{client: c, prefix: prefix, ttl: ttl}
}

// Get returns the cached order, or (nil, nil) on a miss.
func (c *OrderCache) Get(ctx context.Context, number string) (*order.Order, error) {
	data, err := c.client.Get(ctx, c.prefix+number).Bytes()
	if errors.Is(err, redis.Nil) {
		zctx.From(ctx).Debug("Order cache miss", zap.String("order_number", number))
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get cached order %q", number)
	}

	o, err := order.DecodeDocument[order.Order](data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode cached order %q", number)
	}
	return &o, nil
}

// Set caches o.
func (c *OrderCache) Set(ctx context.Context, o *order.Order) error {
	data, err := order.EncodeDocument(o)
	if err != nil {
		return errors.Wrapf(err, "encode order %q", o.Number)
	}
	if err := c.client.Set(ctx, c.prefix+o.Number, data, c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "cache order %q", o.Number)
	}
	return nil
}

// Delete evicts an order.
func (c *OrderCache) Delete(ctx context.Context, number string) error {
	if err := c.client.Del(ctx, c.prefix+number).Err(); err != nil {
		return errors.Wrapf(err, "evict order %q", number)
	}
	return nil
}
