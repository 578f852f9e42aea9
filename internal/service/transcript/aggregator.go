package transcript

import (
	"sync"
	"time"

	"ai-voice-session-service/internal/models"
)

// DefaultClearDelay is how long finalized live text stays visible.
const DefaultClearDelay = 1000 * time.Millisecond

type liveText struct {
	text string
	seq  uint64
}

// Aggregator keeps the live (in-progress) text per speaker and the
// append-only conversation log for one call.
// Thread-safe: grace-delay clears fire on timer goroutines.
//
// Fragment handling:
//
//	partial ──→ live[speaker] = text        (replace, never concatenate)
//	final   ──→ live[speaker] = text
//	            log = append(log, entry)
//	            after clearDelay: live[speaker] = "" unless a newer fragment arrived
type Aggregator struct {
	mu         sync.Mutex
	clearDelay time.Duration
	now        func() time.Time

	live    map[models.Speaker]liveText
	timers  map[models.Speaker]*time.Timer
	entries []models.ConversationEntry
	seq     uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an empty aggregator.
// A negative clearDelay is treated as zero (clear immediately).
func NewAggregator(clearDelay time.Duration, opts ...Option) *Aggregator {
	if clearDelay < 0 {
		clearDelay = 0
	}
	a := &Aggregator{
		clearDelay: clearDelay,
		now:        time.Now,
		live:       make(map[models.Speaker]liveText),
		timers:     make(map[models.Speaker]*time.Timer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one fragment into the aggregator state.
// Returns the appended entry and true when the fragment was final.
func (a *Aggregator) Apply(f models.TranscriptFragment) (models.ConversationEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	seq := a.seq
	a.live[f.Speaker] = liveText{text: f.Text, seq: seq}
	a.stopTimerLocked(f.Speaker)

	if !f.IsFinal {
		return models.ConversationEntry{}, false
	}

	entry := models.ConversationEntry{
		Speaker:   f.Speaker,
		Text:      f.Text,
		Timestamp: a.now(),
	}
	a.entries = append(a.entries, entry)

	speaker := f.Speaker
	if a.clearDelay == 0 {
		delete(a.live, speaker)
	} else {
		a.timers[speaker] = time.AfterFunc(a.clearDelay, func() {
			a.clearLive(speaker, seq)
		})
	}

	return entry, true
}

func (a *Aggregator) clearLive(speaker models.Speaker, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// A newer fragment for this speaker owns both slots.
	if cur, ok := a.live[speaker]; !ok || cur.seq != seq {
		return
	}
	delete(a.live, speaker)
	delete(a.timers, speaker)
}

func (a *Aggregator) stopTimerLocked(speaker models.Speaker) {
	if t, ok := a.timers[speaker]; ok {
		t.Stop()
		delete(a.timers, speaker)
	}
}

// Live returns the in-progress text for a speaker ("" when none).
func (a *Aggregator) Live(speaker models.Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live[speaker].text
}

// LiveAll returns a copy of all non-empty live texts keyed by speaker name.
func (a *Aggregator) LiveAll() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]string, len(a.live))
	for s, lt := range a.live {
		out[s.String()] = lt.text
	}
	return out
}

// Entries returns a copy of the conversation log.
func (a *Aggregator) Entries() []models.ConversationEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.ConversationEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of finalized entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset clears the log and live text and cancels pending clears.
// Used when a new call starts.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for s := range a.timers {
		a.stopTimerLocked(s)
	}
	a.live = make(map[models.Speaker]liveText)
	a.entries = nil
}
