package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	apperrors "devguard/internal/errors"
)

// Middleware requires a valid bearer token when auth is enabled and adds the
// claims to the request context
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apperrors.SendError(w, apperrors.NewAuthenticationError("Authentication required"))
			return
		}
		claims, err := s.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.Printf("AuthMiddleware: JWT validation failed: %v", err)
			apperrors.SendError(w, apperrors.NewAuthenticationError("Invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext retrieves the token claims from request context
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
