package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/observability/metrics"
)

// Status is the terminal (or pending) state of a poll loop.
type Status int

const (
	PollPending Status = iota
	PollSucceeded
	PollExhausted
	PollFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case PollPending:
		return "PENDING"
	case PollSucceeded:
		return "SUCCEEDED"
	case PollExhausted:
		return "EXHAUSTED"
	case PollFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true for every status except PENDING.
func (s Status) IsTerminal() bool {
	return s != PollPending
}

// PollState is the observable progress of one call's poll loop.
// Attempt is zero-based: Attempt+1 requests have been issued.
type PollState struct {
	Attempt int    `json:"attempt"`
	CallID  string `json:"callId"`
	Status  Status `json:"status"`
}

// Observer receives poll progress. Called from the polling goroutine.
type Observer func(PollState)

// Config controls the polling policy.
type Config struct {
	Interval     time.Duration // delay between attempts
	MaxAttempts  int           // total requests, including the first
	PrePollDelay time.Duration // one-off wait before the first attempt
}

// DefaultConfig returns the bounded policy: 30s warm-up then 12 attempts 10s apart.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		MaxAttempts:  12,
		PrePollDelay: 30 * time.Second,
	}
}

// Poller runs bounded poll loops against a Store.
type Poller struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
}

// NewPoller creates a poller. Non-positive interval or attempt values fall
// back to the defaults; a negative pre-poll delay is treated as zero.
func NewPoller(store Store, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PrePollDelay < 0 {
		cfg.PrePollDelay = 0
	}
	return &Poller{
		store:   store,
		cfg:     cfg,
		metrics: metrics.DefaultMetrics,
	}
}

// Config returns the effective polling policy.
func (p *Poller) Config() Config {
	return p.cfg
}

// Poll blocks until the analysis is available, the attempt budget is spent,
// or ctx is cancelled.
//
// Outcomes:
//   - complete response        → result, nil
//   - budget spent, not ready  → *ExhaustedError
//   - last attempt errored     → *FetchFailedError
//   - ctx cancelled            → ctx.Err(), no further attempts
func (p *Poller) Poll(ctx context.Context, callID string, observe Observer) (*models.AnalysisResult, error) {
	if observe == nil {
		observe = func(PollState) {}
	}
	logger := logging.WithPoll(callID, p.cfg.MaxAttempts)
	started := time.Now()

	observe(PollState{CallID: callID, Status: PollPending})

	if p.cfg.PrePollDelay > 0 {
		logger.Debug().Dur("delay", p.cfg.PrePollDelay).Msg("Waiting before first analysis poll")
		t := time.NewTimer(p.cfg.PrePollDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var (
		requests int
		result   *models.AnalysisResult
		lastErr  error
	)

	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxAttempts-1), retry.NewConstant(p.cfg.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		requests++
		attempt := requests - 1
		observe(PollState{Attempt: attempt, CallID: callID, Status: PollPending})

		fetchStart := time.Now()
		res, err := p.store.Fetch(ctx, callID)
		latency := time.Since(fetchStart).Seconds()

		switch {
		case err == nil:
			p.metrics.RecordPollAttempt("ready", latency)
			result = res
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrNotReady):
			p.metrics.RecordPollAttempt("not_ready", latency)
			logger.Debug().Int("attempt", attempt).Msg("Analysis not ready yet")
		default:
			p.metrics.RecordPollAttempt("error", latency)
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Analysis fetch failed, will retry")
		}
		lastErr = err
		return retry.RetryableError(err)
	})

	final := PollState{Attempt: max(requests-1, 0), CallID: callID}

	switch {
	case err == nil:
		final.Status = PollSucceeded
		observe(final)
		p.metrics.RecordPollOutcome(final.Status.String(), time.Since(started).Seconds())
		logger.Info().Int("requests", requests).Msg("Analysis received")
		return result, nil

	case ctx.Err() != nil:
		logger.Info().Int("requests", requests).Msg("Analysis poll cancelled")
		return nil, ctx.Err()

	case errors.Is(lastErr, ErrNotReady):
		final.Status = PollExhausted
		observe(final)
		p.metrics.RecordPollOutcome(final.Status.String(), time.Since(started).Seconds())
		logger.Warn().Int("requests", requests).Msg("Analysis poll budget exhausted")
		return nil, &ExhaustedError{CallID: callID, Attempts: requests}

	default:
		final.Status = PollFailed
		observe(final)
		p.metrics.RecordPollOutcome(final.Status.String(), time.Since(started).Seconds())
		logger.Error().Err(lastErr).Int("requests", requests).Msg("Analysis poll failed")
		return nil, &FetchFailedError{CallID: callID, Attempts: requests, Err: lastErr}
	}
}
