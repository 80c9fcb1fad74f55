package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const (
	// UserContextKey is the context key for the authenticated customer ID.
	UserContextKey contextKey = "user_id"

	// UserIDHeader carries the customer ID set by the authenticating proxy
	// in front of the storefront. Login itself happens there.
	UserIDHeader = "X-Authenticated-User"
)

// WithUser copies the proxy-supplied customer ID into the request context.
// Requests without the header continue as guests.
//
// The header can be spoofed by anyone who reaches the server directly, so
// the proxy must strip it from inbound traffic.
func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects guests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID returns the authenticated customer ID, or "" for guests.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserContextKey).(string)
	return id
}

// RequireAdminToken guards admin routes with a static bearer token. An
// empty token disables every admin route rather than opening them.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				respondForbidden(w, r)
				return
			}

			scheme, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || presented == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="brokkr-admin"`)
				respondUnauthorized(w, r)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				respondUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
