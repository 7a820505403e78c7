package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "api_key"

// Scopes required by the route groups.
const (
	ScopeCheckout = auth.ScopeCheckout
	ScopeAdmin    = auth.ScopeAdmin
)

// Authenticator checks API keys against their stored HMAC-SHA256 hashes.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator hashing keys with pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{apikeys: apikeys, pepper: pepper}
}

// Authenticate resolves the key. Unknown keys and hash mismatches both
// return auth.ErrNotFound.
func (a *Authenticator) Authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return nil, auth.ErrNotFound
	}
	hash := auth.Hash(a.pepper, key)

	info, err := a.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return nil, err
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, auth.ErrNotFound
	}
	return info, nil
}

// Require rejects requests without a valid key holding scope.
func (a *Authenticator) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := a.Authenticate(r)
			switch {
			case errors.Is(err, auth.ErrNotFound):
				writeError(w, http.StatusUnauthorized, errorResponse{Kind: kindUnauthorized, Message: "invalid or missing API key"})
				return
			case err != nil:
				zctx.From(ctx).Error("Authenticate", zap.Error(err))
				writeError(w, http.StatusInternalServerError, errorResponse{Kind: "FATAL", Message: "internal error"})
				return
			case !info.HasScope(scope):
				writeError(w, http.StatusForbidden, errorResponse{Kind: kindForbidden, Message: "API key lacks scope " + scope})
				return
			}

			ctx = auth.WithInfo(ctx, info)
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
