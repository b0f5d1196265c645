package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/accessories", func(r chi.Router) {
				r.Get("/", s.handleListAccessories)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAccessory)
					r.Get("/characteristics/{iid}", s.handleGetCharacteristic)
					r.Put("/characteristics/{iid}", s.handleSetCharacteristic)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/diagnostics", s.handleDeviceDiagnostics)
					r.Get("/capabilities/{capability}", s.handleGetCapability)
					r.Delete("/mapping", s.handleForgetMapping)
					r.Post("/mapping", s.handleRemap)
				})
			})

			r.Get("/diagnostics", s.handleDiagnostics)

			// WebSocket (bearer header or token query parameter)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"bridge":  s.bridge.HealthCounts(),
		"clients": s.hub.ClientCount(),
	})
}
