package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-voice-session-service/internal/observability/metrics"
)

func TestServer_Endpoints(t *testing.T) {
	metrics.DefaultMetrics.RecordCallStarted()

	tests := []struct {
		name     string
		ready    ReadyFunc
		path     string
		wantCode int
		wantBody string
	}{
		{"healthz", nil, "/healthz", http.StatusOK, "ok"},
		{"readyz without check", nil, "/readyz", http.StatusOK, "ready"},
		{"readyz passing", func(context.Context) error { return nil }, "/readyz", http.StatusOK, "ready"},
		{"readyz failing", func(context.Context) error { return errors.New("archive down") }, "/readyz", http.StatusServiceUnavailable, "archive down"},
		{"metrics", nil, "/metrics", http.StatusOK, "ai_voice_session_calls_started_total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newMux(tt.ready).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q", tt.wantBody)
			}
		})
	}
}
