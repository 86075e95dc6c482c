package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexom/backend/pkg/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticate requires a valid Bearer login token and attaches its claims
// to the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, "Authentication required. Please provide a valid token.")
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" {
				writeAuthError(w, "Authentication required. Please provide a valid token.")
				return
			}

			claims, err := auth.Parse(token, secret)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					writeAuthError(w, "Token expired. Please login again.")
					return
				}
				writeAuthError(w, "Invalid token. Please login again.")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the claims attached by Authenticate, or nil on
// unauthenticated requests.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"status":%d,"message":%q}`, http.StatusUnauthorized, message)
}
