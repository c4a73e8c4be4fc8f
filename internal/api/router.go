package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
	"github.com/ezifydevelopers/trainingportal-chat/internal/handlers"
	"github.com/ezifydevelopers/trainingportal-chat/internal/hub"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, data store.DataStore, redisStore *store.RedisStore, h *hub.Hub, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hdl := handlers.NewHandler(data, redisStore, h, logger)
	auth := middleware.NewAuthMiddleware(data, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", hdl.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		// Rate limiting keys on the authenticated user, so it sits after auth.
		limiter := middleware.NewRateLimiter(redisStore, logger)
		r.Use(limiter.Middleware)

		r.Get("/ws", hdl.ServeWS)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/rooms", hdl.ListRooms)
			r.Get("/rooms/{id}/messages", hdl.GetRoomMessages)
			r.Post("/rooms/{id}/read", hdl.MarkRoomRead)
			r.Delete("/rooms/{id}", hdl.DeleteRoom)
			r.Post("/send", hdl.SendMessage)
			r.Get("/direct/{userId}", hdl.GetDirectRoom)
			r.Get("/users", hdl.ListUsers)
			r.Get("/unread-count", hdl.UnreadCount)
			r.Delete("/messages/{id}", hdl.DeleteMessage)
			r.Post("/messages/delete-multiple", hdl.DeleteMultiple)
		})
	})

	return r
}
