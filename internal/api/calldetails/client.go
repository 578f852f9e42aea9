// Package calldetails serves the Analysis Store: it proxies the voice
// provider's call API and returns only the post-call analysis and summary.
package calldetails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ai-voice-session-service/internal/observability/metrics"
)

const maxUpstreamBody = 4 << 20

// ErrNoAPIKey is returned when the provider API key is not configured.
var ErrNoAPIKey = errors.New("calldetails: provider API key not configured")

// UpstreamError is returned when the provider answers with a non-200 status
// or an error body.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider API returned %d: %s", e.StatusCode, e.Body)
}

// Details is the subset of the provider call record the store exposes.
// Absent fields stay JSON null.
type Details struct {
	Analysis json.RawMessage `json:"analysis"`
	Summary  json.RawMessage `json:"summary"`
}

// Client fetches call records from the provider API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
}

// NewClient creates a provider client. A nil httpClient gets a default
// with the given timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		metrics: metrics.DefaultMetrics,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Fetch issues GET {base}/call/{id} and extracts the analysis and summary.
func (c *Client) Fetch(ctx context.Context, callID string) (*Details, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/call/"+url.PathEscape(callID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest("error")
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamRequest(strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if msg, ok := record["error"]; ok {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	return &Details{
		Analysis: nullIfEmpty(record["analysis"]),
		Summary:  nullIfEmpty(record["summary"]),
	}, nil
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
