// Package call provides the call lifecycle state machine.
package call

import (
	"errors"
	"fmt"
)

// Phase represents the lifecycle phase of a call.
type Phase int

const (
	// PhaseIdle - No call has been requested.
	PhaseIdle Phase = iota
	// PhaseConnecting - Start requested, waiting for the transport's call-start.
	PhaseConnecting
	// PhaseActive - Transport confirmed the call is live.
	PhaseActive
	// PhaseEnded - Call finished (normally, remotely or by error).
	PhaseEnded
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// IsLive returns true while a transport session exists (CONNECTING or ACTIVE).
func (p Phase) IsLive() bool {
	return p == PhaseConnecting || p == PhaseActive
}

// SpeakingState is the live sub-state of an ACTIVE call.
type SpeakingState int

const (
	Listening SpeakingState = iota
	AssistantSpeaking
	UserSpeaking
)

// String returns the string representation of the speaking state.
func (s SpeakingState) String() string {
	switch s {
	case Listening:
		return "LISTENING"
	case AssistantSpeaking:
		return "ASSISTANT_SPEAKING"
	case UserSpeaking:
		return "USER_SPEAKING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SpeakingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyActive is returned by Start while a call is connecting or active.
var ErrAlreadyActive = errors.New("call already active")

// Machine is the state machine for one session's calls.
// It is not safe for concurrent use; the owning session serializes access.
//
// Phase transitions:
//
//	IDLE → CONNECTING → ACTIVE → ENDED
//	  ↑        │                   │
//	  └─ Abort ┘                   └── Start() ──→ CONNECTING
//
// Rules:
//   - Start: only from IDLE or ENDED
//   - Connected: only from CONNECTING
//   - End: from CONNECTING or ACTIVE, once per call
//   - Speech and volume updates only take effect while ACTIVE
type Machine struct {
	phase    Phase
	speaking SpeakingState
	volume   float64
	ended    bool
}

// NewMachine creates a machine in IDLE phase.
func NewMachine() *Machine {
	return &Machine{}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Speaking returns the current speaking state.
func (m *Machine) Speaking() SpeakingState {
	return m.speaking
}

// Volume returns the last reported volume level.
func (m *Machine) Volume() float64 {
	return m.volume
}

// Start transitions to CONNECTING for a new call.
func (m *Machine) Start() error {
	switch m.phase {
	case PhaseIdle, PhaseEnded:
		m.setPhase(PhaseConnecting)
		m.ended = false
		m.volume = 0
		return nil
	case PhaseConnecting, PhaseActive:
		return ErrAlreadyActive
	default:
		return fmt.Errorf("unexpected phase: %v", m.phase)
	}
}

// Abort returns a CONNECTING call to IDLE after the transport rejected it.
// Returns false if the machine was not connecting.
func (m *Machine) Abort() bool {
	if m.phase != PhaseConnecting {
		return false
	}
	m.setPhase(PhaseIdle)
	return true
}

// Connected handles the transport's call-start event.
// Returns true if the machine moved CONNECTING → ACTIVE.
func (m *Machine) Connected() bool {
	if m.phase != PhaseConnecting {
		return false
	}
	m.setPhase(PhaseActive)
	return true
}

// AssistantSpeech records an assistant speech-start or speech-end.
// Last write wins. Returns false if the call is not ACTIVE.
func (m *Machine) AssistantSpeech(started bool) bool {
	return m.speech(started, AssistantSpeaking)
}

// UserSpeech records a user-speech-start or user-speech-end.
// Last write wins. Returns false if the call is not ACTIVE.
func (m *Machine) UserSpeech(started bool) bool {
	return m.speech(started, UserSpeaking)
}

func (m *Machine) speech(started bool, who SpeakingState) bool {
	if m.phase != PhaseActive {
		return false
	}
	if started {
		m.speaking = who
	} else {
		m.speaking = Listening
	}
	return true
}

// SetVolume stores the latest volume level verbatim.
func (m *Machine) SetVolume(level float64) {
	m.volume = level
}

// End transitions CONNECTING or ACTIVE to ENDED.
// Idempotent: returns true only for the first end signal of a call.
func (m *Machine) End() bool {
	if m.ended || !m.phase.IsLive() {
		return false
	}
	m.ended = true
	m.setPhase(PhaseEnded)
	return true
}

func (m *Machine) setPhase(p Phase) {
	m.phase = p
	m.speaking = Listening
}
