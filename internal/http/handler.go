package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/service/analysis"
	"ai-voice-session-service/internal/service/call"
	"ai-voice-session-service/internal/service/session"
	"ai-voice-session-service/internal/store"
)

const (
	maxBodyBytes     = 64 << 10
	defaultAwaitWait = 30 * time.Second
	maxAwaitWait     = 10 * time.Minute
)

// CallService is the session surface exposed over HTTP.
type CallService interface {
	StartCall(ctx context.Context, contact *models.ContactInfo) (string, error)
	EndCall(ctx context.Context) error
	Snapshot() session.Snapshot
	AwaitAnalysis(ctx context.Context) (*models.AnalysisResult, error)
}

// Handler serves the session API.
type Handler struct {
	calls CallService
	repo  store.Repository // optional
	log   zerolog.Logger
}

// NewHandler creates a handler. repo may be nil when the archive is disabled.
func NewHandler(calls CallService, repo store.Repository) *Handler {
	return &Handler{
		calls: calls,
		repo:  repo,
		log:   logging.WithComponent("http"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type startCallRequest struct {
	Contact *models.ContactInfo `json:"contact"`
}

type startCallResponse struct {
	CallID string `json:"callId"`
}

// StartCall handles POST /v1/calls.
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	callID, err := h.calls.StartCall(r.Context(), req.Contact)
	if err != nil {
		var startErr *session.TransportStartError
		switch {
		case errors.Is(err, call.ErrAlreadyActive):
			Error(w, http.StatusConflict, err.Error())
		case errors.Is(err, session.ErrClosed):
			Error(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &startErr):
			h.log.Warn().Err(err).Msg("Call start rejected by transport")
			Error(w, http.StatusBadGateway, err.Error())
		default:
			h.log.Error().Err(err).Msg("Failed to start call")
			Error(w, http.StatusInternalServerError, "failed to start call")
		}
		return
	}

	JSON(w, http.StatusAccepted, startCallResponse{CallID: callID})
}

// EndCall handles DELETE /v1/calls/current.
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	if err := h.calls.EndCall(r.Context()); err != nil {
		if errors.Is(err, session.ErrClosed) {
			Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to end call")
		Error(w, http.StatusInternalServerError, "failed to end call")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	session.Snapshot
	Qualified *bool  `json:"qualified,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func newSessionResponse(snap session.Snapshot) sessionResponse {
	resp := sessionResponse{Snapshot: snap}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	if q, ok := snap.Analysis.IsQualified(); ok {
		resp.Qualified = &q
	}
	return resp
}

// Session handles GET /v1/session.
func (h *Handler) Session(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, newSessionResponse(h.calls.Snapshot()))
}

type analysisResponse struct {
	Status   string                 `json:"status"`
	Analysis *models.AnalysisResult `json:"analysis,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// AwaitAnalysis handles GET /v1/session/analysis?wait=30s. It blocks until
// the current call's poll terminates or the wait elapses.
func (h *Handler) AwaitAnalysis(w http.ResponseWriter, r *http.Request) {
	wait := defaultAwaitWait
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > maxAwaitWait {
			Error(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		wait = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	result, err := h.calls.AwaitAnalysis(ctx)
	var exhausted *analysis.ExhaustedError
	var failed *analysis.FetchFailedError
	switch {
	case err == nil:
		JSON(w, http.StatusOK, analysisResponse{Status: analysis.PollSucceeded.String(), Analysis: result})
	case errors.Is(err, session.ErrNoAnalysis):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrPollSuperseded):
		Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &exhausted):
		JSON(w, http.StatusOK, analysisResponse{Status: analysis.PollExhausted.String(), Error: err.Error()})
	case errors.As(err, &failed):
		JSON(w, http.StatusOK, analysisResponse{Status: analysis.PollFailed.String(), Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		JSON(w, http.StatusAccepted, analysisResponse{Status: analysis.PollPending.String()})
	default:
		h.log.Error().Err(err).Msg("Analysis wait failed")
		Error(w, http.StatusInternalServerError, "analysis wait failed")
	}
}

// ListCalls handles GET /v1/calls?limit=N.
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotImplemented, "call archive disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	calls, err := h.repo.ListCalls(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list calls")
		Error(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if calls == nil {
		calls = []*store.CallRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// GetCall handles GET /v1/calls/{callID}.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotImplemented, "call archive disabled")
		return
	}

	callID := chi.URLParam(r, "callID")
	rec, err := h.repo.GetCall(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("callId", callID).Msg("Failed to load call")
		Error(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// Readiness handles GET /v1/readiness. The archive, when enabled, must answer a ping.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("archive unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
