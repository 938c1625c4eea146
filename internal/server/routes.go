// Package server wires HTTP handlers into a chi router for the formsync
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the router with all application routes:
// health check, WebSocket endpoint, test page, forms API, and metrics.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/favicon.ico", FaviconHandler)
	r.Get("/test", s.TestPageHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins.corsOrigins(),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: !s.origins.allowAll,
			MaxAge:           300,
		}))
		r.Post("/forms", s.CreateFormHandler)
		r.Get("/forms/{shareToken}", s.GetFormHandler)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
