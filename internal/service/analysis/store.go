// Package analysis retrieves post-call analysis from the Analysis Store by
// bounded polling.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-voice-session-service/internal/models"
)

// Store fetches a call's analysis.
// Fetch returns ErrNotReady when the analysis is not available yet.
type Store interface {
	Fetch(ctx context.Context, callID string) (*models.AnalysisResult, error)
}

// StatusError is returned for non-2xx Analysis Store responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis store returned %d: %s", e.StatusCode, e.Body)
}

// callDetails mirrors the /call-details body; null and absent fields decode to nil.
type callDetails struct {
	Summary  *string          `json:"summary"`
	Analysis *models.Analysis `json:"analysis"`
}

// HTTPStore queries GET {baseURL}/call-details?call_id={id}.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store client. A nil client gets a pooled default.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = NewPooledHTTPClient(4, 15*time.Second)
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// NewPooledHTTPClient creates an http.Client with connection pooling and tuned transport.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Fetch issues one request for the call's analysis.
func (s *HTTPStore) Fetch(ctx context.Context, callID string) (*models.AnalysisResult, error) {
	u := s.baseURL + "/call-details?call_id=" + url.QueryEscape(callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch call details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var details callDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode call details: %w", err)
	}

	return details.result()
}

// result returns the analysis when structurally complete, ErrNotReady otherwise.
func (d callDetails) result() (*models.AnalysisResult, error) {
	if d.Summary == nil || *d.Summary == "" || d.Analysis == nil {
		return nil, ErrNotReady
	}
	return &models.AnalysisResult{
		Summary:  *d.Summary,
		Analysis: *d.Analysis,
	}, nil
}
