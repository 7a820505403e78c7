// Package auth models API keys and their scopes.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

const (
	// ScopeCheckout grants the customer-facing checkout operations.
	ScopeCheckout = "checkout"
	// ScopeAdmin grants payment method administration.
	ScopeAdmin = "admin"
)

// ErrNotFound is returned when no active key has the given hash.
var ErrNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope. The admin scope
// implies every other scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope) || slices.Contains(i.Scopes, ScopeAdmin)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the raw HMAC-SHA256 of key under pepper.
func Hash(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// HashHex is Hash encoded as it is stored.
func HashHex(pepper []byte, key string) string {
	return hex.EncodeToString(Hash(pepper, key))
}

type infoKey struct{}

// WithInfo stores the authenticated key in ctx.
func WithInfo(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFrom returns the authenticated key, if any.
func InfoFrom(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(infoKey{}).(*APIKeyInfo)
	return info, ok
}
