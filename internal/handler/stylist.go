package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stylemate-rest-api/internal/middleware"
	"stylemate-rest-api/internal/service"
	"stylemate-rest-api/pkg/apierror"
	"stylemate-rest-api/pkg/response"
)

// StylistHandler handles AI stylist HTTP requests.
type StylistHandler struct {
	stylist *service.StylistService
}

// NewStylistHandler creates a new stylist handler.
func NewStylistHandler(stylist *service.StylistService) *StylistHandler {
	return &StylistHandler{stylist: stylist}
}

// Chat handles POST /api/v1/stylist/chat
func (h *StylistHandler) Chat(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	var req service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	result, err := h.stylist.Chat(r.Context(), tokenData.UserID, req)
	if err != nil {
		response.Error(w, err)
		return
	}

	if result.Pending {
		response.JSON(w, http.StatusAccepted, result)
		return
	}
	response.OK(w, result)
}

// Status handles GET /api/v1/stylist/threads/{thread_id}/status
func (h *StylistHandler) Status(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	threadID := chi.URLParam(r, "thread_id")

	result, err := h.stylist.CheckStatus(r.Context(), tokenData.UserID, threadID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, result)
}

// Messages handles GET /api/v1/stylist/threads/{thread_id}/messages
func (h *StylistHandler) Messages(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	threadID := chi.URLParam(r, "thread_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.stylist.ListMessages(r.Context(), tokenData.UserID, threadID, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"thread_id": threadID,
		"messages":  messages,
	})
}
