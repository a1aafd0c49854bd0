// Package middleware contains HTTP middleware for the API.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"norelock.dev/listenify/providerhost/internal/auth"
	"norelock.dev/listenify/providerhost/internal/utils"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware guards routes that mutate the registry.
type AuthMiddleware struct {
	tokens TokenValidator
	logger *utils.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens TokenValidator, logger *utils.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger.Named("auth_middleware"),
	}
}

// RequireRole rejects requests without a valid bearer token carrying role.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.tokens == nil {
				utils.RespondWithError(w, http.StatusServiceUnavailable, "Administration is disabled")
				return
			}

			token, err := utils.ExtractBearerToken(r)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, err.Error())
				return
			}

			claims, err := m.tokens.ValidateToken(token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					utils.RespondWithError(w, http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
				default:
					m.logger.Error("Failed to validate token", err)
					utils.RespondWithError(w, http.StatusInternalServerError, "Failed to validate token")
				}
				return
			}

			if !claims.HasRole(role) {
				m.logger.Warn("Insufficient role", "subject", claims.Subject, "required", role)
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}
