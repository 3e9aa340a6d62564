package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/JustinTDCT/DoubanLink/internal/httputil"
)

type contextKey string

const ContextClaims contextKey = "claims"

// RequireAdmin rejects requests without a valid bearer token carrying the
// admin claim.
func (a *Auth) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.ParseToken(token)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !claims.Admin {
			httputil.WriteError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ContextClaims, claims)))
	}
}

func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(ContextClaims).(*Claims)
	return c
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
