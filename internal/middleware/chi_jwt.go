// Package middleware holds the chi middleware gates used by the
// northbound HTTP surface: dashboard JWT validation and the workflow
// API-key check.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/partarstu/agentic-qa-framework/internal/httputil"
)

type contextKey string

const usernameContextKey contextKey = "dashboardUsername"

// JWTMiddleware creates a chi middleware that validates the dashboard
// session JWT on every /dashboard/* request.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.Unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				httputil.Unauthorized(w, "invalid authorization header format")
				return
			}
			tokenString := parts[1]

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})

			if err != nil || !token.Valid {
				httputil.Unauthorized(w, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				httputil.Unauthorized(w, "invalid token claims")
				return
			}

			ctx := r.Context()
			if username, ok := claims["username"].(string); ok {
				ctx = context.WithValue(ctx, usernameContextKey, username)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsernameFromContext returns the dashboard username carried by a
// validated JWT, if any.
func UsernameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(usernameContextKey).(string)
	return v, ok
}

// APIKeyMiddleware creates a chi middleware gating workflow endpoints
// behind a configured API key. If key is empty the gate is disabled.
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != key {
				httputil.Unauthorized(w, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
