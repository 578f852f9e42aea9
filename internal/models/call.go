// Package models defines the data structures shared by the call session,
// the analysis poller and the event publisher.
package models

import (
	"fmt"
	"time"
)

// Speaker identifies who produced a transcript fragment.
type Speaker int

const (
	SpeakerAssistant Speaker = iota
	SpeakerUser
)

// String returns the wire name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerAssistant:
		return "assistant"
	case SpeakerUser:
		return "user"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so speakers serialize by name.
func (s Speaker) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Speaker) UnmarshalText(text []byte) error {
	switch string(text) {
	case "assistant":
		*s = SpeakerAssistant
	case "user":
		*s = SpeakerUser
	default:
		return fmt.Errorf("unknown speaker %q", text)
	}
	return nil
}

// TranscriptFragment is one incremental speech-to-text snapshot.
// Text is the full utterance so far, not a delta.
type TranscriptFragment struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	IsFinal    bool      `json:"isFinal"`
	ObservedAt time.Time `json:"observedAt"`
}

// ConversationEntry is a finalized utterance in the conversation log.
type ConversationEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ContactInfo is optional caller metadata forwarded to the call transport.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Analysis is the provider's post-call analysis block.
type Analysis struct {
	StructuredData map[string]any `json:"structuredData,omitempty"`
	SuccessEval    any            `json:"successEvaluation,omitempty"`
	Summary        string         `json:"summary,omitempty"`
}

// AnalysisResult is the Analysis Store payload for a finished call.
type AnalysisResult struct {
	Summary  string   `json:"summary"`
	Analysis Analysis `json:"analysis"`
}

// IsQualified reports the structuredData.is_qualified flag.
// ok is false when the flag is absent or not a boolean.
func (r *AnalysisResult) IsQualified() (qualified, ok bool) {
	if r == nil || r.Analysis.StructuredData == nil {
		return false, false
	}
	v, ok := r.Analysis.StructuredData["is_qualified"].(bool)
	return v, ok
}

// ConversationEntryEvent is published for every finalized utterance.
type ConversationEntryEvent struct {
	EventType string  `json:"eventType"`
	CallID    string  `json:"callId"`
	Sequence  int     `json:"sequence"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

// CallAnalysisEvent is published once when a call's poll loop terminates.
type CallAnalysisEvent struct {
	EventType      string         `json:"eventType"`
	CallID         string         `json:"callId"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	Summary        string         `json:"summary,omitempty"`
	StructuredData map[string]any `json:"structuredData,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      int64          `json:"timestamp"`
}

const (
	EventTypeConversationEntry = "call.conversation.entry"
	EventTypeCallAnalysis      = "call.analysis.completed"
)
