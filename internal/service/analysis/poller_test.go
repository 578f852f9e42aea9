package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-voice-session-service/internal/models"
)

// scriptedStore replays a fixed list of responses, repeating the last one.
type scriptedStore struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	callTimes []time.Time
	onFetch   func(n int)
}

type scriptedResponse struct {
	result *models.AnalysisResult
	err    error
}

func (s *scriptedStore) Fetch(ctx context.Context, callID string) (*models.AnalysisResult, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.callTimes = append(s.callTimes, time.Now())
	hook := s.onFetch
	var r scriptedResponse
	if idx < len(s.responses) {
		r = s.responses[idx]
	} else if len(s.responses) > 0 {
		r = s.responses[len(s.responses)-1]
	} else {
		r = scriptedResponse{err: ErrNotReady}
	}
	s.mu.Unlock()

	if hook != nil {
		hook(idx + 1)
	}
	return r.result, r.err
}

func (s *scriptedStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func notReady() scriptedResponse { return scriptedResponse{err: ErrNotReady} }

func ready(summary string) scriptedResponse {
	return scriptedResponse{result: &models.AnalysisResult{
		Summary:  summary,
		Analysis: models.Analysis{StructuredData: map[string]any{"is_qualified": true}},
	}}
}

func fastConfig(maxAttempts int) Config {
	return Config{Interval: time.Millisecond, MaxAttempts: maxAttempts}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []PollState
}

func (r *stateRecorder) observe(s PollState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) last() PollState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func TestPoller_SucceedsOnFourthAttempt(t *testing.T) {
	store := &scriptedStore{responses: []scriptedResponse{notReady(), notReady(), notReady(), ready("ok")}}
	rec := &stateRecorder{}
	p := NewPoller(store, fastConfig(12))

	result, err := p.Poll(context.Background(), "call-1", rec.observe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "ok" {
		t.Errorf("expected summary 'ok', got %q", result.Summary)
	}
	if q, ok := result.IsQualified(); !ok || !q {
		t.Errorf("expected is_qualified=true, got (%v, %v)", q, ok)
	}

	final := rec.last()
	if final.Status != PollSucceeded {
		t.Errorf("expected PollSucceeded, got %v", final.Status)
	}
	if store.count() != final.Attempt+1 {
		t.Errorf("expected attempt+1 (%d) requests, got %d", final.Attempt+1, store.count())
	}
	if store.count() != 4 {
		t.Errorf("expected 4 requests, got %d", store.count())
	}
}

func TestPoller_RequestCountMatchesAttempt(t *testing.T) {
	for n := 1; n < 6; n++ {
		responses := make([]scriptedResponse, 0, n)
		for i := 0; i < n-1; i++ {
			responses = append(responses, notReady())
		}
		responses = append(responses, ready("done"))

		store := &scriptedStore{responses: responses}
		rec := &stateRecorder{}
		p := NewPoller(store, fastConfig(6))

		if _, err := p.Poll(context.Background(), "call", rec.observe); err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if got := rec.last(); got.Attempt != n-1 || store.count() != n {
			t.Errorf("n=%d: expected attempt %d with %d requests, got attempt %d with %d requests",
				n, n-1, n, got.Attempt, store.count())
		}
	}
}

func TestPoller_ExhaustsBudget(t *testing.T) {
	store := &scriptedStore{responses: []scriptedResponse{notReady()}}
	rec := &stateRecorder{}
	p := NewPoller(store, fastConfig(5))

	result, err := p.Poll(context.Background(), "call-2", rec.observe)
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 5 || exhausted.CallID != "call-2" {
		t.Errorf("unexpected exhausted error: %+v", exhausted)
	}
	if !errors.Is(err, ErrNotReady) {
		t.Error("expected exhausted error to match ErrNotReady")
	}
	if rec.last().Status != PollExhausted {
		t.Errorf("expected PollExhausted, got %v", rec.last().Status)
	}

	// No further attempt is scheduled after termination
	time.Sleep(20 * time.Millisecond)
	if store.count() != 5 {
		t.Errorf("expected exactly 5 requests, got %d", store.count())
	}
}

func TestPoller_TransientErrorsConsumeAttempts(t *testing.T) {
	transient := scriptedResponse{err: &StatusError{StatusCode: 502, Body: "bad gateway"}}
	store := &scriptedStore{responses: []scriptedResponse{transient, notReady(), transient, ready("ok")}}
	p := NewPoller(store, fastConfig(4))

	result, err := p.Poll(context.Background(), "call-3", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "ok" || store.count() != 4 {
		t.Errorf("expected success on 4th request, got %q after %d", result.Summary, store.count())
	}
}

func TestPoller_FinalAttemptErrorFails(t *testing.T) {
	cause := &StatusError{StatusCode: 500, Body: "boom"}
	store := &scriptedStore{responses: []scriptedResponse{notReady(), notReady(), {err: cause}}}
	rec := &stateRecorder{}
	p := NewPoller(store, fastConfig(3))

	_, err := p.Poll(context.Background(), "call-4", rec.observe)

	var failed *FetchFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected FetchFailedError, got %v", err)
	}
	if failed.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", failed.Attempts)
	}
	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != 500 {
		t.Errorf("expected underlying StatusError 500, got %v", err)
	}
	if rec.last().Status != PollFailed {
		t.Errorf("expected PollFailed, got %v", rec.last().Status)
	}
}

func TestPoller_ErrorThenNotReadyOnLastAttemptExhausts(t *testing.T) {
	store := &scriptedStore{responses: []scriptedResponse{{err: errors.New("connection refused")}, notReady()}}
	p := NewPoller(store, fastConfig(2))

	_, err := p.Poll(context.Background(), "call-5", nil)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
}

func TestPoller_CancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &scriptedStore{responses: []scriptedResponse{notReady()}}
	store.onFetch = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	p := NewPoller(store, Config{Interval: 5 * time.Millisecond, MaxAttempts: 10})

	_, err := p.Poll(ctx, "call-6", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if store.count() != 2 {
		t.Errorf("expected no requests after cancellation, got %d", store.count())
	}
}

func TestPoller_PrePollDelay(t *testing.T) {
	store := &scriptedStore{responses: []scriptedResponse{ready("ok")}}
	p := NewPoller(store, Config{Interval: time.Millisecond, MaxAttempts: 1, PrePollDelay: 40 * time.Millisecond})

	start := time.Now()
	if _, err := p.Poll(context.Background(), "call-7", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first := store.callTimes[0].Sub(start); first < 40*time.Millisecond {
		t.Errorf("expected first request after pre-poll delay, got %v", first)
	}
	// The delay does not consume the attempt budget
	if store.count() != 1 {
		t.Errorf("expected 1 request, got %d", store.count())
	}
}

func TestPoller_CancelDuringPrePollDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &scriptedStore{}
	p := NewPoller(store, Config{Interval: time.Millisecond, MaxAttempts: 3, PrePollDelay: time.Hour})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Poll(ctx, "call-8", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.count() != 0 {
		t.Errorf("expected no requests, got %d", store.count())
	}
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&scriptedStore{}, Config{PrePollDelay: -time.Second})
	cfg := p.Config()

	if cfg.Interval != 10*time.Second {
		t.Errorf("expected default interval 10s, got %v", cfg.Interval)
	}
	if cfg.MaxAttempts != 12 {
		t.Errorf("expected default max attempts 12, got %d", cfg.MaxAttempts)
	}
	if cfg.PrePollDelay != 0 {
		t.Errorf("expected negative pre-poll delay to clamp to 0, got %v", cfg.PrePollDelay)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interval != 10*time.Second {
		t.Errorf("expected interval 10s, got %v", cfg.Interval)
	}
	if cfg.MaxAttempts != 12 {
		t.Errorf("expected 12 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.PrePollDelay != 30*time.Second {
		t.Errorf("expected pre-poll delay 30s, got %v", cfg.PrePollDelay)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
		terminal bool
	}{
		{PollPending, "PENDING", false},
		{PollSucceeded, "SUCCEEDED", true},
		{PollExhausted, "EXHAUSTED", true},
		{PollFailed, "FAILED", true},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %v, want %v", tt.status, got, tt.expected)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("Status(%s).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}
