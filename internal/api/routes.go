package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/lorawan-server/udp-ingest/internal/metrics"
)

// setupAPIRoutes sets up the status routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)
	r.Method("GET", "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/token", s.HandleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/audit", s.HandleListAudit)
			r.Get("/events", s.HandleListEvents)
		})
	})
}
