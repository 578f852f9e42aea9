// Package session orchestrates one voice-call session: it drives the call
// state machine from transport events, folds transcripts into the
// conversation log, and hands ended calls to the analysis poller.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/observability/metrics"
	"ai-voice-session-service/internal/service/analysis"
	"ai-voice-session-service/internal/service/call"
	"ai-voice-session-service/internal/service/transcript"
	"ai-voice-session-service/internal/service/transport"
)

const (
	defaultErrorBuffer = 16
	closeTimeout       = 5 * time.Second

	endReasonStopped      = "stopped"
	endReasonCallEnd      = "call-end"
	endReasonSessionEnded = "session-ended"
	endReasonFatal        = "fatal-error"
	endReasonClosed       = "closed"
)

// Poller runs a bounded analysis poll for one call.
type Poller interface {
	Poll(ctx context.Context, callID string, observe analysis.Observer) (*models.AnalysisResult, error)
}

type numberedEntry struct {
	seq   int
	entry models.ConversationEntry
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	Phase          call.Phase                 `json:"phase"`
	SpeakingState  call.SpeakingState         `json:"speakingState"`
	VolumeLevel    float64                    `json:"volumeLevel"`
	CallID         string                     `json:"callId,omitempty"`
	Conversation   []models.ConversationEntry `json:"conversation"`
	LiveTranscript map[string]string          `json:"liveTranscript"`
	PollState      *analysis.PollState        `json:"pollState,omitempty"`
	Analysis       *models.AnalysisResult     `json:"analysis,omitempty"`
	LastError      error                      `json:"-"`
}

// Option configures a Session.
type Option func(*Session)

// WithPublisher sends conversation entries and analysis outcomes to p.
func WithPublisher(p EventPublisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithArchive persists calls to a.
func WithArchive(a Archive) Option {
	return func(s *Session) { s.archive = a }
}

// WithClearDelay sets how long finalized live text stays visible.
func WithClearDelay(d time.Duration) Option {
	return func(s *Session) { s.clearDelay = d }
}

// WithAssistantID sets the assistant requested on every call.
func WithAssistantID(id string) Option {
	return func(s *Session) { s.startCfg.AssistantID = id }
}

// WithMetadata sets metadata forwarded to the transport on every call.
func WithMetadata(md map[string]string) Option {
	return func(s *Session) { s.startCfg.Metadata = md }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns one transport and at most one live call and poll loop.
// All state changes are serialized by mu; sinks run after it is released.
type Session struct {
	transport  transport.Transport
	poller     Poller
	publisher  EventPublisher
	archive    Archive
	clearDelay time.Duration
	startCfg   transport.StartConfig
	now        func() time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics

	subs  transport.Subscriptions
	errs  chan error
	sinks *sinkQueue

	mu          sync.Mutex
	closed      bool
	machine     *call.Machine
	agg         *transcript.Aggregator
	starting    bool
	callID      string
	startedAt   time.Time
	pendingEnd    bool
	pendingPoll   bool
	pendingReason string
	entrySeq      int
	unsent        []numberedEntry // finalized before the call id was known
	lastErr       error

	pollGen    uint64
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	pollState  *analysis.PollState
	pollResult *models.AnalysisResult
	pollErr    error
}

// New creates a session bound to t and subscribes to all transport events.
// Call Close to release the subscriptions.
func New(t transport.Transport, p Poller, opts ...Option) *Session {
	s := &Session{
		transport:  t,
		poller:     p,
		clearDelay: transcript.DefaultClearDelay,
		now:        time.Now,
		log:        logging.WithComponent("session"),
		metrics:    metrics.DefaultMetrics,
		errs:       make(chan error, defaultErrorBuffer),
		machine:    call.NewMachine(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.agg = transcript.NewAggregator(s.clearDelay, transcript.WithClock(s.now))
	s.sinks = newSinkQueue(s.publisher, s.archive, s.log)

	handlers := map[transport.EventName]transport.Handler{
		transport.EventCallStart:           s.onCallStart,
		transport.EventCallEnd:             s.onCallEnd,
		transport.EventSpeechStart:         func(transport.Event) { s.onSpeech(models.SpeakerAssistant, true) },
		transport.EventSpeechEnd:           func(transport.Event) { s.onSpeech(models.SpeakerAssistant, false) },
		transport.EventUserSpeechStart:     func(transport.Event) { s.onSpeech(models.SpeakerUser, true) },
		transport.EventUserSpeechEnd:       func(transport.Event) { s.onSpeech(models.SpeakerUser, false) },
		transport.EventVolumeLevel:         s.onVolume,
		transport.EventTranscript:          func(ev transport.Event) { s.onTranscript(transcript.HintNone, ev.Payload) },
		transport.EventUserTranscript:      func(ev transport.Event) { s.onTranscript(transcript.HintUser, ev.Payload) },
		transport.EventAssistantTranscript: func(ev transport.Event) { s.onTranscript(transcript.HintAssistant, ev.Payload) },
		transport.EventMessage:             s.onMessage,
		transport.EventError:               s.onError,
	}
	for _, name := range transport.AllEvents {
		s.subs = append(s.subs, t.Subscribe(name, handlers[name]))
	}

	return s
}

// Close releases transport subscriptions, cancels any poll and stops a live
// call without requesting analysis.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelPollLocked()
	callID := s.callID
	live := s.endLocked(endReasonClosed, false) && callID != ""
	s.mu.Unlock()

	s.subs.Unsubscribe()
	s.agg.Reset()

	var err error
	if live {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = s.transport.Stop(ctx)
		cancel()
	}
	s.sinks.close()
	return err
}

// Errors returns terminal transport and poll failures, one per event.
// Errors are dropped when the buffer is full.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// StartCall starts a new call and returns its id. The call is CONNECTING
// until the transport reports call-start. Any previous analysis poll is
// cancelled.
func (s *Session) StartCall(ctx context.Context, contact *models.ContactInfo) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.starting {
		s.mu.Unlock()
		return "", call.ErrAlreadyActive
	}
	if err := s.machine.Start(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.cancelPollLocked()
	s.pollState, s.pollResult, s.pollErr, s.pollDone = nil, nil, nil, nil
	s.starting = true
	s.callID = ""
	s.pendingEnd, s.pendingPoll, s.pendingReason = false, false, ""
	s.unsent = nil
	s.lastErr = nil

	cfg := s.startCfg
	cfg.Contact = contact
	s.mu.Unlock()

	info, err := s.transport.Start(ctx, cfg)

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.pendingEnd, s.pendingPoll, s.pendingReason = false, false, ""
		s.unsent = nil
		s.machine.Abort()
		startErr := &TransportStartError{Err: err}
		s.lastErr = startErr
		s.mu.Unlock()

		s.metrics.RecordCallStartFailed()
		s.log.Error().Err(err).Msg("Failed to start call")
		return "", startErr
	}

	if s.closed {
		s.mu.Unlock()
		s.stopTransport(ctx, info.ID)
		return "", ErrClosed
	}

	s.callID = info.ID
	s.startedAt = s.now()
	startedAt := s.startedAt
	unsent := s.unsent
	s.unsent = nil

	// The call ended while the transport was still dialing.
	stopNow := s.pendingEnd
	endReason := s.pendingReason
	if stopNow {
		if s.pendingPoll {
			s.beginPollLocked(info.ID)
		}
		s.pendingEnd, s.pendingPoll, s.pendingReason = false, false, ""
	}
	s.mu.Unlock()

	s.metrics.RecordCallStarted()
	s.log.Info().Str("callId", info.ID).Msg("Call started")
	s.sinks.callStarted(info.ID, contact, startedAt)
	for _, e := range unsent {
		s.sinks.entryFinalized(info.ID, e.seq, e.entry)
	}

	if stopNow {
		s.log.Info().Str("callId", info.ID).Str("reason", endReason).Msg("Call ended")
		s.metrics.RecordCallEnded(endReason, 0)
		s.sinks.callEnded(info.ID, s.now(), endReason)
		s.stopTransport(ctx, info.ID)
	}
	return info.ID, nil
}

// EndCall stops the live call and starts the analysis poll for it.
// No-op when no call is live.
func (s *Session) EndCall(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	callID := s.callID
	ended := s.endLocked(endReasonStopped, true)
	s.mu.Unlock()

	if !ended || callID == "" {
		return nil
	}
	s.stopTransport(ctx, callID)
	return nil
}

func (s *Session) stopTransport(ctx context.Context, callID string) {
	if err := s.transport.Stop(ctx); err != nil {
		s.log.Warn().Err(err).Str("callId", callID).Msg("Transport stop failed")
	}
}

// Snapshot returns a copy of the current state. Never blocks on I/O.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:          s.machine.Phase(),
		SpeakingState:  s.machine.Speaking(),
		VolumeLevel:    s.machine.Volume(),
		CallID:         s.callID,
		Conversation:   s.agg.Entries(),
		LiveTranscript: s.agg.LiveAll(),
		Analysis:       s.pollResult,
		LastError:      s.lastErr,
	}
	if s.pollState != nil {
		ps := *s.pollState
		snap.PollState = &ps
	}
	return snap
}

// AwaitAnalysis blocks until the current call's poll terminates and
// returns its outcome.
func (s *Session) AwaitAnalysis(ctx context.Context) (*models.AnalysisResult, error) {
	s.mu.Lock()
	done, gen := s.pollDone, s.pollGen
	s.mu.Unlock()

	if done == nil {
		return nil, ErrNoAnalysis
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.pollGen {
		return nil, ErrPollSuperseded
	}
	return s.pollResult, s.pollErr
}

// endLocked moves a live call to ENDED. With poll set, the analysis poll is
// started (or deferred until the transport returns the call id).
func (s *Session) endLocked(reason string, poll bool) bool {
	if !s.machine.End() {
		return false
	}

	callID := s.callID
	if callID == "" {
		s.log.Info().Str("reason", reason).Msg("Call ended before transport returned an id")
		s.pendingEnd = true
		s.pendingPoll = poll
		s.pendingReason = reason
		return true
	}

	duration := s.now().Sub(s.startedAt)
	s.metrics.RecordCallEnded(reason, duration.Seconds())
	s.log.Info().
		Str("callId", callID).
		Str("reason", reason).
		Dur("duration", duration).
		Int("entries", s.agg.Len()).
		Msg("Call ended")

	s.sinks.callEnded(callID, s.now(), reason)
	if poll {
		s.beginPollLocked(callID)
	}
	return true
}

func (s *Session) beginPollLocked(callID string) {
	s.cancelPollLocked()

	s.pollGen++
	gen := s.pollGen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.pollCancel = cancel
	s.pollDone = done
	s.pollState = &analysis.PollState{CallID: callID, Status: analysis.PollPending}
	s.pollResult, s.pollErr = nil, nil

	go s.runPoll(ctx, gen, callID, done)
}

// cancelPollLocked stops the in-flight poll. Its outcome will be discarded.
func (s *Session) cancelPollLocked() {
	s.pollGen++
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
		s.metrics.RecordPollCancelled()
	}
}

func (s *Session) runPoll(ctx context.Context, gen uint64, callID string, done chan struct{}) {
	defer close(done)
	log := logging.WithCall("session", callID)

	observe := func(st analysis.PollState) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.pollGen {
			s.pollState = &st
		}
	}

	result, err := s.poller.Poll(ctx, callID, observe)

	s.mu.Lock()
	if gen != s.pollGen || callID != s.callID {
		s.mu.Unlock()
		log.Debug().Msg("Discarding stale analysis outcome")
		return
	}
	s.pollCancel = nil
	attempts := 0
	if s.pollState != nil {
		attempts = s.pollState.Attempt + 1
	}
	if err != nil {
		s.pollErr = err
		s.lastErr = err
	} else {
		s.pollResult = result
	}
	s.mu.Unlock()

	if err != nil {
		s.report(err)
		log.Warn().Err(err).Msg("Analysis unavailable")
	} else if q, ok := result.IsQualified(); ok {
		log.Info().Bool("qualified", q).Msg("Analysis ready")
	} else {
		log.Info().Msg("Analysis ready")
	}

	s.sinks.analysisDone(analysisEvent(callID, attempts, result, err, s.now()))
}

func analysisEvent(callID string, attempts int, result *models.AnalysisResult, err error, at time.Time) models.CallAnalysisEvent {
	ev := models.CallAnalysisEvent{
		EventType: models.EventTypeCallAnalysis,
		CallID:    callID,
		Attempts:  attempts,
		Timestamp: at.UnixMilli(),
	}

	var exhausted *analysis.ExhaustedError
	switch {
	case err == nil:
		ev.Status = analysis.PollSucceeded.String()
		ev.Summary = result.Summary
		ev.StructuredData = result.Analysis.StructuredData
	case errors.As(err, &exhausted):
		ev.Status = analysis.PollExhausted.String()
		ev.Error = err.Error()
	default:
		ev.Status = analysis.PollFailed.String()
		ev.Error = err.Error()
	}
	return ev
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.Warn().Err(err).Msg("Error channel full, dropping error")
	}
}

// Transport event handlers. Each runs to completion under mu.

func (s *Session) onCallStart(transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Connected() {
		s.log.Debug().Str("phase", s.machine.Phase().String()).Msg("Ignoring call-start")
		return
	}
	s.agg.Reset()
	s.entrySeq = 0
	s.unsent = nil
	s.log.Info().Str("callId", s.callID).Msg("Call connected")
}

func (s *Session) onCallEnd(transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(endReasonCallEnd, true)
}

func (s *Session) onSpeech(speaker models.Speaker, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speaker == models.SpeakerUser {
		s.machine.UserSpeech(started)
	} else {
		s.machine.AssistantSpeech(started)
	}
}

func (s *Session) onVolume(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.SetVolume(ev.Volume)
}

func (s *Session) onMessage(ev transport.Event) {
	msgType, _ := ev.Payload["type"].(string)
	switch msgType {
	case "transcript":
		s.onTranscript(transcript.HintNone, ev.Payload)
	case "speech-update":
		status, _ := ev.Payload["status"].(string)
		if status != "started" && status != "stopped" {
			return
		}
		role, _ := ev.Payload["role"].(string)
		speaker, ok := transcript.ParseSpeaker(role)
		if !ok {
			speaker = models.SpeakerAssistant
		}
		s.onSpeech(speaker, status == "started")
	}
}

func (s *Session) onTranscript(hint transcript.Hint, payload map[string]any) {
	s.mu.Lock()
	phase := s.machine.Phase()
	if phase != call.PhaseActive && phase != call.PhaseEnded {
		s.mu.Unlock()
		return
	}

	frag, ok := transcript.Normalize(hint, payload, s.now())
	if !ok {
		s.mu.Unlock()
		s.metrics.RecordFragmentDropped()
		return
	}

	entry, final := s.agg.Apply(frag)
	if !final {
		s.mu.Unlock()
		s.metrics.RecordPartialTranscript()
		return
	}
	s.entrySeq++
	seq, callID := s.entrySeq, s.callID
	if callID == "" {
		s.unsent = append(s.unsent, numberedEntry{seq: seq, entry: entry})
	}
	s.mu.Unlock()

	s.metrics.RecordFinalTranscript()
	if callID != "" {
		s.sinks.entryFinalized(callID, seq, entry)
	}
}

func (s *Session) onError(ev transport.Event) {
	if transport.IsSessionEnded(ev.Payload) {
		s.mu.Lock()
		callID := s.callID
		ended := s.endLocked(endReasonSessionEnded, true)
		s.mu.Unlock()
		if !ended {
			s.log.Debug().Msg("Ignoring repeated end-of-session error")
			return
		}
		s.releaseTransport(callID)
		return
	}

	s.mu.Lock()
	callID := s.callID
	ended := s.endLocked(endReasonFatal, false)
	var fatal *FatalTransportError
	if ended {
		fatal = &FatalTransportError{
			CallID:  callID,
			Message: transport.ErrorMessage(ev.Payload),
			Payload: ev.Payload,
		}
		s.lastErr = fatal
	}
	s.mu.Unlock()

	if fatal == nil {
		s.log.Warn().Str("message", transport.ErrorMessage(ev.Payload)).Msg("Transport error outside a live call")
		return
	}
	s.log.Error().Str("callId", callID).Str("message", fatal.Message).Msg("Fatal transport error")
	s.report(fatal)
	s.releaseTransport(callID)
}

// releaseTransport stops the transport off the delivery goroutine, which a
// transport may need to finish before Stop returns.
func (s *Session) releaseTransport(callID string) {
	if callID == "" {
		return
	}
	go func() {
		s.mu.Lock()
		current := s.callID == callID && !s.starting
		s.mu.Unlock()
		if !current {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		s.stopTransport(ctx, callID)
	}()
}
