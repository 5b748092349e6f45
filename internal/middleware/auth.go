package middleware

import (
	"context"
	"net/http"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/service"
	"stylemate-rest-api/pkg/apierror"
)

// TokenDataKey is the key for storing token data in request context.
const TokenDataKey contextKey = "token_data"

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	TokenService *service.TokenService

	// AllowDevHeader trusts X-User-ID when no TokenService is wired.
	// Development only; never set in production.
	AllowDevHeader bool
}

// NewAuthMiddleware creates an authentication middleware with injected
// dependencies. Token service is passed via closure, no global state.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Token")
			if token != "" && cfg.TokenService != nil {
				tokenData, err := cfg.TokenService.ValidateToken(r.Context(), token)
				if err != nil {
					writeError(w, apierror.AuthRequired("Invalid or expired token"))
					return
				}

				ctx := context.WithValue(r.Context(), TokenDataKey, tokenData)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if cfg.AllowDevHeader && cfg.TokenService == nil {
				if userID := r.Header.Get("X-User-ID"); userID != "" {
					ctx := context.WithValue(r.Context(), TokenDataKey,
						&model.TokenData{UserID: userID})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			writeError(w, apierror.AuthRequired("Authentication required. Use the X-Token header."))
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// GetTokenDataFromContext retrieves token data from request context.
func GetTokenDataFromContext(ctx context.Context) *model.TokenData {
	if data, ok := ctx.Value(TokenDataKey).(*model.TokenData); ok {
		return data
	}
	return nil
}
