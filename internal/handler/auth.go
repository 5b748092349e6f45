package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/service"
	"stylemate-rest-api/pkg/apierror"
	"stylemate-rest-api/pkg/response"
)

// AuthHandler handles session token HTTP requests. Tokens are issued to the
// main app backend on behalf of its logged-in users, authenticated by a
// shared service key.
type AuthHandler struct {
	tokenService *service.TokenService
	serviceKey   string
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(tokenService *service.TokenService, serviceKey string) *AuthHandler {
	return &AuthHandler{
		tokenService: tokenService,
		serviceKey:   serviceKey,
	}
}

// TokenRequest represents the request body for token generation.
type TokenRequest struct {
	UserID   string `json:"user_id"`
	PlanCode string `json:"plan_code,omitempty"`
}

// TokenResponse represents the response for token generation.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// GenerateToken handles POST /api/v1/auth/token
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	if h.serviceKey == "" {
		response.Error(w, apierror.ConfigError("Session issuance is not configured"))
		return
	}
	provided := r.Header.Get("X-Service-Key")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.serviceKey)) != 1 {
		response.Error(w, apierror.AuthRequired("Invalid service key"))
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if req.UserID == "" {
		response.Error(w, apierror.BadRequest("user_id is required"))
		return
	}

	token, err := h.tokenService.GenerateToken(r.Context(), model.TokenData{
		UserID:   req.UserID,
		PlanCode: req.PlanCode,
	})
	if err != nil {
		response.Error(w, apierror.InternalError("failed to generate token"))
		return
	}

	response.OK(w, TokenResponse{
		Token:     token,
		ExpiresIn: int(service.TokenTTL.Seconds()),
	})
}

// RevokeToken handles POST /api/v1/auth/revoke
func (h *AuthHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RevokeToken(r.Context(), token); err != nil {
		response.Error(w, apierror.InternalError("failed to revoke token"))
		return
	}

	response.OK(w, map[string]string{"status": "revoked"})
}

// RefreshToken handles POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RefreshToken(r.Context(), token); err != nil {
		response.Error(w, apierror.AuthRequired(err.Error()))
		return
	}

	response.OK(w, map[string]interface{}{
		"status":     "refreshed",
		"expires_in": int(service.TokenTTL.Seconds()),
	})
}
