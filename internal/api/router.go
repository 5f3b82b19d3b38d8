package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
// The context bounds WebSocket connection lifetimes.
func (s *Server) buildRouter(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)

		r.Post("/activity", s.handleSetActivity)
		r.Post("/volume", s.handleVolume)
		r.Post("/source", s.handleSource)
		r.Post("/media", s.handleMedia)

		r.Route("/config/defaults", func(r chi.Router) {
			r.Get("/", s.handleGetDefaults)
			r.Patch("/", s.handlePatchDefaults)
		})

		r.Get("/events/history", s.handleEventHistory)

		// WebSocket event stream (replay via ?since=N)
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			s.handleWebSocket(ctx, w, req)
		})
	})

	return r
}

// HealthResponse reports server and device health.
type HealthResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Unreachable []string `json:"unreachable,omitempty"`
}

// handleHealth returns the room health status. "starting" means startup
// revalidation has not completed yet; "degraded" means the room is
// serving but one or more devices are unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}

	if !s.room.Ready() {
		resp.Status = "starting"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	if roles := s.room.UnreachableRoles(); len(roles) > 0 {
		resp.Status = "degraded"
		for _, role := range roles {
			resp.Unreachable = append(resp.Unreachable, string(role))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
