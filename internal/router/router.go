package router

import (
	"net/http"

	"collectord/internal/handler"
	"collectord/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Config holds the configuration for creating a router.
type Config struct {
	Health         *handler.HealthHandler
	Items          *handler.ItemHandler
	Actions        *handler.ActionHandler
	Channel        *handler.ChannelHandler
	AuthMiddleware func(http.Handler) http.Handler
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.NewRecovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if cfg.Health != nil {
		r.Get("/api/status", cfg.Health.Status)
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Health != nil {
				r.Get("/health", cfg.Health.Health)
				r.Get("/ready", cfg.Health.Ready)
			}

			if cfg.Items != nil {
				r.Get("/items", cfg.Items.List)
				r.Get("/items/{id}", cfg.Items.Get)
				r.Get("/authorizations", cfg.Items.Authorizations)
				r.Get("/pending", cfg.Items.Pending)
				r.Post("/refresh", cfg.Items.Refresh)
			}

			if cfg.Actions != nil {
				r.Post("/items/{id}/actions/{kind}", cfg.Actions.Start)
				r.Post("/items/{id}/cancel", cfg.Actions.Cancel)
				r.Get("/actions/history", cfg.Actions.History)
			}

			if cfg.Channel != nil {
				r.Route("/channel", func(r chi.Router) {
					r.Get("/", cfg.Channel.Status)
					r.Post("/reconnect", cfg.Channel.Reconnect)
				})
			}
		})
	})

	return r
}
