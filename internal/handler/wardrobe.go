package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"stylemate-rest-api/internal/middleware"
	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/pkg/apierror"
	"stylemate-rest-api/pkg/response"
	"stylemate-rest-api/pkg/uid"
)

// WardrobeHandler handles wardrobe sync HTTP requests. These are thin
// upsert/list endpoints that keep the local copy of wardrobe data fresh for
// context assembly.
type WardrobeHandler struct {
	wardrobe repository.WardrobeRepository
}

// NewWardrobeHandler creates a new wardrobe handler.
func NewWardrobeHandler(wardrobe repository.WardrobeRepository) *WardrobeHandler {
	return &WardrobeHandler{wardrobe: wardrobe}
}

// UpsertItem handles POST /api/v1/wardrobe/items
func (h *WardrobeHandler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	var item model.WardrobeItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if item.Name == "" {
		response.Error(w, apierror.ValidationError("Invalid wardrobe item",
			apierror.FieldError{Field: "name", Message: "name is required"}))
		return
	}

	// The item always belongs to the authenticated user, regardless of
	// what the body claims.
	item.UserID = tokenData.UserID
	if item.ID == "" {
		item.ID = uid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	if err := h.wardrobe.UpsertItem(r.Context(), &item); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, item)
}

// ListItems handles GET /api/v1/wardrobe/items
func (h *WardrobeHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 100
	}

	items, err := h.wardrobe.ListItems(r.Context(), tokenData.UserID, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"items": items})
}

// GetItem handles GET /api/v1/wardrobe/items/{item_id}
func (h *WardrobeHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	itemID := chi.URLParam(r, "item_id")
	item, err := h.wardrobe.GetItem(r.Context(), tokenData.UserID, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, apierror.NotFound(""))
		return
	}
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, item)
}

// UpsertOutfit handles POST /api/v1/wardrobe/outfits
func (h *WardrobeHandler) UpsertOutfit(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	var outfit model.Outfit
	if err := json.NewDecoder(r.Body).Decode(&outfit); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	outfit.UserID = tokenData.UserID
	if outfit.ID == "" {
		outfit.ID = uid.New()
	}

	if err := h.wardrobe.UpsertOutfit(r.Context(), &outfit); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, outfit)
}

// UpsertCalendarEntry handles POST /api/v1/wardrobe/calendar
func (h *WardrobeHandler) UpsertCalendarEntry(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	var entry model.CalendarEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	entry.UserID = tokenData.UserID
	if entry.ID == "" {
		entry.ID = uid.New()
	}

	if err := h.wardrobe.UpsertCalendarEntry(r.Context(), &entry); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, entry)
}

// UpsertTrip handles POST /api/v1/wardrobe/trips
func (h *WardrobeHandler) UpsertTrip(w http.ResponseWriter, r *http.Request) {
	tokenData := middleware.GetTokenDataFromContext(r.Context())
	if tokenData == nil {
		response.Error(w, apierror.AuthRequired(""))
		return
	}

	var trip model.Trip
	if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	trip.UserID = tokenData.UserID
	if trip.ID == "" {
		trip.ID = uid.New()
	}

	if err := h.wardrobe.UpsertTrip(r.Context(), &trip); err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, trip)
}
