package router

import (
	"net/http"

	"stylemate-rest-api/internal/handler"
	"stylemate-rest-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	AuthHandler     *handler.AuthHandler
	StylistHandler  *handler.StylistHandler
	WardrobeHandler *handler.WardrobeHandler
	AuthMiddleware  func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Token", "X-Service-Key", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}

	// Token issuance authenticates with the service key, not a session.
	if cfg.AuthHandler != nil {
		r.Post("/api/v1/auth/token", cfg.AuthHandler.GenerateToken)
	}

	// AUTHENTICATED routes (use Group to apply auth middleware only to these)
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.AuthHandler != nil {
				r.Route("/auth", func(r chi.Router) {
					r.Post("/revoke", cfg.AuthHandler.RevokeToken)
					r.Post("/refresh", cfg.AuthHandler.RefreshToken)
				})
			}

			if cfg.StylistHandler != nil {
				r.Route("/stylist", func(r chi.Router) {
					r.Post("/chat", cfg.StylistHandler.Chat)
					r.Route("/threads/{thread_id}", func(r chi.Router) {
						r.Get("/status", cfg.StylistHandler.Status)
						r.Get("/messages", cfg.StylistHandler.Messages)
					})
				})
			}

			if cfg.WardrobeHandler != nil {
				r.Route("/wardrobe", func(r chi.Router) {
					r.Post("/items", cfg.WardrobeHandler.UpsertItem)
					r.Get("/items", cfg.WardrobeHandler.ListItems)
					r.Get("/items/{item_id}", cfg.WardrobeHandler.GetItem)
					r.Post("/outfits", cfg.WardrobeHandler.UpsertOutfit)
					r.Post("/calendar", cfg.WardrobeHandler.UpsertCalendarEntry)
					r.Post("/trips", cfg.WardrobeHandler.UpsertTrip)
				})
			}
		})
	})

	return r
}
