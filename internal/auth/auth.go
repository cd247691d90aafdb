// Package auth resolves the authenticated user for each request.
//
// Token verification happens upstream at the API gateway; by the time a
// request reaches this service the gateway has attached the verified,
// opaque user id as the X-User-ID header. This package lifts that header
// into the request context and rejects requests without one.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// UserIDHeader carries the gateway-verified user id.
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

// UserID returns the authenticated user id stored in ctx, or "" if the
// request did not pass through Middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithUserID returns a context carrying the given user id. Exposed for
// tests that call handlers directly.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// Middleware requires X-User-ID on every request and stores it in the
// context. Requests without one get a 401 before any side effect.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserIDHeader)
		if id == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "missing " + UserIDHeader + " header",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
