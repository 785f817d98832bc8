package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/renderowl/backend/internal/auth"
)

type contextKey string

const ctxIdentityKey contextKey = "identity"

// BearerAuth authenticates requests with a first-party bearer token — a
// JWT session token or an rwl_-prefixed API key — and sets the resolved
// identity into request context.
func BearerAuth(authSvc auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			var (
				ident auth.Identity
				err   error
			)
			if strings.HasPrefix(raw, auth.APIKeyPrefix) {
				ident, err = authSvc.ValidateAPIKey(r.Context(), raw)
			} else {
				ident, err = authSvc.ValidateToken(r.Context(), raw)
			}
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxIdentityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromCtx returns the authenticated identity, or false.
func IdentityFromCtx(ctx context.Context) (auth.Identity, bool) {
	ident, ok := ctx.Value(ctxIdentityKey).(auth.Identity)
	return ident, ok
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
