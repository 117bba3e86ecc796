// Package middleware provides the HTTP middlewares applied in front of the
// gateway: bearer authentication, tenant context, and rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/platform/reqctx"
)

// Authenticate verifies the Authorization bearer token and injects the
// authenticated user, tenant, and permissions into the request context.
// Every request also gets a correlation id, taken from X-Correlation-Id when
// the caller supplies one.
func Authenticate(issuer *identity.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.WithCorrelationID(r.Context(), r.Header.Get("X-Correlation-Id"))

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, `{"errors":["Unauthorized"]}`, http.StatusUnauthorized)
			return
		}

		claims, err := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "), identity.TokenAccess)
		if err != nil {
			http.Error(w, `{"errors":["Unauthorized"]}`, http.StatusUnauthorized)
			return
		}

		ctx = reqctx.WithTenant(ctx, claims.TenantID)
		ctx = reqctx.WithUser(ctx, claims.Subject)
		ctx = reqctx.WithPermissions(ctx, claims.Permissions)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID assigns a correlation id to unauthenticated routes such as
// /health so their logs still join up.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(reqctx.WithCorrelationID(r.Context(), id)))
	})
}
