// Package payment holds the registry of payment methods offered at checkout.
// A Registry never changes after construction; updates build a new Registry
// and swap it into a Store.
package payment

import (
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
)

// ErrUnavailable is returned for unknown or disabled methods.
var ErrUnavailable = errors.New("selected payment method is not available")

// KeyCashOnDelivery is the method every deployment starts with.
const KeyCashOnDelivery = "COD"

// Method is a payment option shown to the customer.
type Method struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
	Notes       string `json:"notes,omitempty"`
}

// Registry is an immutable set of methods keyed by upper-case key.
type Registry struct {
	byKey map[string]Method
	keys  []string
}

// NormalizeKey trims and upper-cases a method key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// NewRegistry builds a Registry, preserving the given order.
func NewRegistry(methods ...Method) (*Registry, error) {
	r := &Registry{
		byKey: make(map[string]Method, len(methods)),
		keys:  make([]string, 0, len(methods)),
	}
	for _, m := range methods {
		m.Key = NormalizeKey(m.Key)
		if m.Key == "" {
			return nil, errors.New("payment method key is empty")
		}
		if _, dup := r.byKey[m.Key]; dup {
			return nil, errors.Errorf("duplicate payment method %q", m.Key)
		}
		if m.DisplayName == "" {
			m.DisplayName = m.Key
		}
		r.byKey[m.Key] = m
		r.keys = append(r.keys, m.Key)
	}
	return r, nil
}

// DefaultRegistry contains only cash on delivery.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(Method{
		Key:         KeyCashOnDelivery,
		DisplayName: "Cash on Delivery",
		Enabled:     true,
		Notes:       "Pay with cash when your order is delivered.",
	})
	return r
}

// Resolve returns the enabled method for key.
func (r *Registry) Resolve(key string) (Method, error) {
	m, ok := r.byKey[NormalizeKey(key)]
	if !ok || !m.Enabled {
		return Method{}, errors.Wrapf(ErrUnavailable, "method %q", key)
	}
	return m, nil
}

// Methods returns every method, enabled or not, in registration order.
func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.byKey[k])
	}
	return out
}

// Enabled returns the enabled methods in registration order.
func (r *Registry) Enabled() []Method {
	out := make([]Method, 0, len(r.keys))
	for _, k := range r.keys {
		if m := r.byKey[k]; m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// With returns a copy of r where m replaces the method with the same key, or
// is appended when the key is new.
func (r *Registry) With(m Method) (*Registry, error) {
	methods := r.Methods()
	key := NormalizeKey(m.Key)
	replaced := false
	for i := range methods {
		if methods[i].Key == key {
			methods[i] = m
			replaced = true
		}
	}
	if !replaced {
		methods = append(methods, m)
	}
	return NewRegistry(methods...)
}

// Store publishes the current Registry to concurrent readers.
type Store struct {
	cur atomic.Pointer[Registry]
}

// NewStore creates a Store holding r.
func NewStore(r *Registry) *Store {
	s := &Store{}
	s.cur.Store(r)
	return s
}

// Registry returns the current snapshot.
func (s *Store) Registry() *Registry {
	return s.cur.Load()
}

// Resolve resolves key against the current snapshot.
func (s *Store) Resolve(key string) (Method, error) {
	return s.cur.Load().Resolve(key)
}

// Replace swaps in a whole new registry.
func (s *Store) Replace(r *Registry) {
	s.cur.Store(r)
}

// Update replaces one method and publishes the resulting registry. Concurrent
// updates are serialized by compare-and-swap.
func (s *Store) Update(m Method) (*Registry, error) {
	for {
		old := s.cur.Load()
		next, err := old.With(m)
		if err != nil {
			return nil, err
		}
		if s.cur.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}
