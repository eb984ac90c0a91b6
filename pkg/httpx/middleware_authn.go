package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Scopes  []string
	Claims  map[string]any
}

// TokenVerifier validates a raw bearer token, including its expiry.
type TokenVerifier interface {
	Verify(raw string) (Principal, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(raw string) (Principal, error)

// Verify implements TokenVerifier.
func (f TokenVerifierFunc) Verify(raw string) (Principal, error) { return f(raw) }

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuthnMiddleware rejects requests without a valid bearer token with an
// RFC 6750 401 and stores the principal for downstream handlers.
func AuthnMiddleware(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))

			p, err := v.Verify(raw)
			if err != nil {
				slogx.FromContext(ctx).DebugContext(ctx, "bearer_verify_failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// writeBearerError writes an RFC 6750 invalid_token response.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": desc,
	})
}
