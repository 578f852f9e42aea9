package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the session API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.Readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.Session)
		r.Get("/session/analysis", h.AwaitAnalysis)

		r.Route("/calls", func(r chi.Router) {
			r.Post("/", h.StartCall)
			r.Get("/", h.ListCalls)
			r.Delete("/current", h.EndCall)
			r.Get("/{callID}", h.GetCall)
		})
	})

	return r
}
