// Package mock provides a mock call transport for running without a provider.
// It simulates a realistic call: call-start, alternating assistant and user
// turns with progressive partial transcripts and exactly one final per turn,
// volume levels, then call-end.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/service/call"
	"ai-voice-session-service/internal/service/transport"
)

// ErrCallInProgress is returned by Start while a simulated call is live.
var ErrCallInProgress = errors.New("mock: call already in progress")

// SimulatedUtterance is one scripted turn.
type SimulatedUtterance struct {
	Speaker  models.Speaker
	Partials []string // Progressive partial transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances is the script used when none is configured.
var DefaultUtterances = []SimulatedUtterance{
	{
		Speaker:  models.SpeakerAssistant,
		Partials: []string{"Hi", "Hi there", "Hi there, thanks for"},
		Final:    "Hi there, thanks for calling. How can I help?",
	},
	{
		Speaker:  models.SpeakerUser,
		Partials: []string{"I want", "I want to", "I want to upgrade"},
		Final:    "I want to upgrade my plan",
	},
	{
		Speaker:  models.SpeakerAssistant,
		Partials: []string{"Sure", "Sure, I can"},
		Final:    "Sure, I can help with that. What is your budget?",
	},
	{
		Speaker:  models.SpeakerUser,
		Partials: []string{"Around", "Around fifty"},
		Final:    "Around fifty dollars a month",
	},
	{
		Speaker:  models.SpeakerAssistant,
		Partials: []string{"Great"},
		Final:    "Great, I'll send over the details. Goodbye!",
	},
}

// Option configures the mock transport.
type Option func(*Transport)

// WithScript replaces the simulated utterances.
func WithScript(script []SimulatedUtterance) Option {
	return func(t *Transport) { t.script = script }
}

// WithStep sets the delay between simulated events.
func WithStep(d time.Duration) Option {
	return func(t *Transport) { t.step = d }
}

// WithManual disables the script. Events are only delivered through Inject,
// which lets tests drive the transport step by step.
func WithManual() Option {
	return func(t *Transport) { t.manual = true }
}

// WithStartError makes every Start fail with err.
func WithStartError(err error) Option {
	return func(t *Transport) { t.startErr = err }
}

// WithStartGate blocks Start until gate is closed or the context is done.
func WithStartGate(gate <-chan struct{}) Option {
	return func(t *Transport) { t.gate = gate }
}

// WithIDPrefix sets the prefix of generated call ids.
func WithIDPrefix(prefix string) Option {
	return func(t *Transport) { t.prefix = prefix }
}

// Transport implements transport.Transport with simulated calls.
type Transport struct {
	transport.Emitter

	ids      *call.IDGenerator
	prefix   string
	script   []SimulatedUtterance
	step     time.Duration
	manual   bool
	startErr error
	gate     <-chan struct{}

	mu        sync.Mutex
	live      bool
	currentID string
	cancel    context.CancelFunc
	done      chan struct{}
	starts    []transport.StartConfig
	stops     int
}

// New creates a new mock transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		ids:    call.NewIDGenerator(),
		prefix: "mock",
		script: DefaultUtterances,
		step:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a simulated call and returns its id.
func (t *Transport) Start(ctx context.Context, cfg transport.StartConfig) (transport.CallInfo, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return transport.CallInfo{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.starts = append(t.starts, cfg)
	if t.startErr != nil {
		return transport.CallInfo{}, t.startErr
	}
	if t.live {
		return transport.CallInfo{}, ErrCallInProgress
	}

	id := t.ids.Next(t.prefix)
	t.live = true
	t.currentID = id

	if !t.manual {
		runCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.done = make(chan struct{})
		go t.run(runCtx, t.done)
	}

	return transport.CallInfo{ID: id}, nil
}

// Stop ends the simulated call and emits call-end. Safe to call when idle.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stops++
	if !t.live {
		t.mu.Unlock()
		return nil
	}
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.finish()
	return nil
}

// Inject delivers ev to subscribers as if the provider had sent it.
// A call-end event also marks the simulated call as over.
func (t *Transport) Inject(ev transport.Event) {
	if ev.Name == transport.EventCallEnd {
		t.mu.Lock()
		t.live = false
		t.mu.Unlock()
	}
	t.Emit(ev)
}

// Starts returns the configs passed to Start, in order.
func (t *Transport) Starts() []transport.StartConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.StartConfig, len(t.starts))
	copy(out, t.starts)
	return out
}

// Stops returns how many times Stop was called.
func (t *Transport) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Live reports whether a simulated call is in progress.
func (t *Transport) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// finish marks the call over and emits call-end exactly once.
func (t *Transport) finish() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	t.mu.Unlock()

	t.Emit(transport.Event{Name: transport.EventCallEnd})
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if !t.sleep(ctx) {
		return
	}
	t.Emit(transport.Event{Name: transport.EventCallStart})

	for _, utt := range t.script {
		if !t.turn(ctx, utt) {
			return
		}
	}

	if !t.sleep(ctx) {
		return
	}
	// Script finished: the assistant hangs up.
	go t.finish()
}

func (t *Transport) turn(ctx context.Context, utt SimulatedUtterance) bool {
	startEv, endEv := transport.EventSpeechStart, transport.EventSpeechEnd
	if utt.Speaker == models.SpeakerUser {
		startEv, endEv = transport.EventUserSpeechStart, transport.EventUserSpeechEnd
	}

	t.Emit(transport.Event{Name: startEv})

	for i, partial := range utt.Partials {
		if !t.sleep(ctx) {
			return false
		}
		t.Emit(transport.Event{Name: transport.EventVolumeLevel, Volume: volumeAt(i)})
		t.Emit(transcriptEvent(utt.Speaker, partial, false))
	}

	if !t.sleep(ctx) {
		return false
	}
	t.Emit(transcriptEvent(utt.Speaker, utt.Final, true))
	t.Emit(transport.Event{Name: transport.EventVolumeLevel, Volume: 0})
	t.Emit(transport.Event{Name: endEv})
	return true
}

func (t *Transport) sleep(ctx context.Context) bool {
	timer := time.NewTimer(t.step)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func transcriptEvent(speaker models.Speaker, text string, final bool) transport.Event {
	transcriptType := "partial"
	if final {
		transcriptType = "final"
	}
	return transport.Event{
		Name: transport.EventMessage,
		Payload: map[string]any{
			"type":           "transcript",
			"role":           speaker.String(),
			"transcript":     text,
			"transcriptType": transcriptType,
		},
	}
}

func volumeAt(i int) float64 {
	levels := []float64{0.35, 0.6, 0.8, 0.55}
	return levels[i%len(levels)]
}
