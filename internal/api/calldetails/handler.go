package calldetails

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/observability/logging"
)

// Fetcher loads call details by id.
type Fetcher interface {
	Fetch(ctx context.Context, callID string) (*Details, error)
	Configured() bool
}

// Handler serves the call-details endpoints.
type Handler struct {
	fetcher Fetcher
	log     zerolog.Logger
}

// NewHandler creates a handler backed by f.
func NewHandler(f Fetcher) *Handler {
	return &Handler{
		fetcher: f,
		log:     logging.WithComponent("calldetails"),
	}
}

// NewRouter constructs the analysis store router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/", h.Health)
	r.Get("/call-details", h.CallDetails)

	return r
}

// CORS allows any origin to GET and POST with JSON or bearer headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// healthResponse uses the key name clients of GET / already read.
type healthResponse struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"vapi_api_key_configured"`
}

// Health handles GET /.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		APIKeyConfigured: h.fetcher.Configured(),
	})
}

// CallDetails handles GET /call-details?call_id={id}.
func (h *Handler) CallDetails(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	log := h.log.With().Str("callId", callID).Logger()

	details, err := h.fetcher.Fetch(r.Context(), callID)
	if err != nil {
		var upstream *UpstreamError
		switch {
		case errors.Is(err, ErrNoAPIKey):
			log.Error().Msg("Provider API key not configured")
			writeError(w, http.StatusInternalServerError, "provider API key not configured")
		case errors.As(err, &upstream):
			log.Warn().Int("status", upstream.StatusCode).Msg("Provider returned an error")
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to fetch call details")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Debug().Msg("Call details served")
	writeJSON(w, http.StatusOK, details)
}
