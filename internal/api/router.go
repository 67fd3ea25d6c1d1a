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

	r.NotFound(unknownRoute)
	r.MethodNotAllowed(wrongMethod)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/sensors", s.handleListSensors)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/sensors", s.handleDeviceSensors)
			})
		})

		r.Route("/sightings", func(r chi.Router) {
			r.Get("/", s.handleListSightings)
			r.Get("/{id}", s.handleGetSighting)
		})
	})

	if s.gatherer != nil && s.metrics.Enabled {
		r.Handle(pathOrDefault(s.metrics.Path, "/metrics"), promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			ErrorLog: promErrorLogger{s.logger},
		}))
	}

	r.Get(pathOrDefault(s.wsCfg.Path, "/ws"), s.handleWebSocket)

	return r
}

func pathOrDefault(path, def string) string {
	if path == "" {
		return def
	}
	return path
}

// handleHealth reports API liveness and the device listener's state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	connections := 0
	if s.gateway != nil {
		connections = s.gateway.Stats().ActiveConnections
		if !s.gateway.Listening() {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     s.version,
		"devices":     s.registry.Count(),
		"connections": connections,
	})
}
