// Package middleware provides HTTP middleware for the merge API.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// UserIDKey is the context key for the requesting user ID.
	UserIDKey contextKey = "user_id"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	// Token is the shared bearer token expected from the upstream gateway.
	Token string
}

// Auth returns an authentication middleware. The gateway in front of the
// service authenticates end users and forwards their ID in X-User-ID; when
// enabled, the gateway itself must present the shared bearer token.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Enabled {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
					return
				}

				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
					http.Error(w, `{"error": "invalid authorization header format"}`, http.StatusUnauthorized)
					return
				}
				if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(cfg.Token)) != 1 {
					http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
					return
				}
			}

			// Image tags cannot set headers, so fall back to a query param
			userStr := r.Header.Get("X-User-ID")
			if userStr == "" {
				userStr = r.URL.Query().Get("user_id")
			}
			if userStr == "" {
				http.Error(w, `{"error": "missing user id"}`, http.StatusUnauthorized)
				return
			}
			userID, err := strconv.ParseInt(userStr, 10, 64)
			if err != nil || userID <= 0 {
				http.Error(w, `{"error": "invalid user id"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext extracts the user ID from context.
func UserFromContext(ctx context.Context) (int64, bool) {
	if v := ctx.Value(UserIDKey); v != nil {
		if id, ok := v.(int64); ok {
			return id, true
		}
	}
	return 0, false
}

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
				w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
