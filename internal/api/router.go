package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check and observability
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		r.Handle("/metrics", promhttp.Handler())

		// Automation endpoints
		r.Route("/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAutomation)
				r.Patch("/", s.handleUpdateAutomation)
				r.Delete("/", s.handleDeleteAutomation)
				r.Post("/enable", s.handleSetAutomationEnabled)
				r.Get("/state", s.handleGetAutomationState)
				r.Get("/executions", s.handleListExecutions)
			})
		})

		// Blueprint endpoints
		r.Route("/blueprints", func(r chi.Router) {
			r.Get("/", s.handleListBlueprints)
			r.Post("/", s.handleCreateBlueprint)
			r.Get("/stats", s.handleBlueprintStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBlueprint)
				r.Delete("/", s.handleDeleteBlueprint)
				r.Post("/instances", s.handleInstantiateBlueprint)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
