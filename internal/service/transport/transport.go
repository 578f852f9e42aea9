// Package transport defines the interface for Call Transport adapters.
package transport

import (
	"context"
	"strings"

	"ai-voice-session-service/internal/models"
)

// EventName identifies a call transport event.
type EventName string

const (
	EventCallStart           EventName = "call-start"
	EventCallEnd             EventName = "call-end"
	EventSpeechStart         EventName = "speech-start"
	EventSpeechEnd           EventName = "speech-end"
	EventUserSpeechStart     EventName = "user-speech-start"
	EventUserSpeechEnd       EventName = "user-speech-end"
	EventVolumeLevel         EventName = "volume-level"
	EventTranscript          EventName = "transcript"
	EventUserTranscript      EventName = "user-transcript"
	EventAssistantTranscript EventName = "assistant-transcript"
	EventMessage             EventName = "message"
	EventError               EventName = "error"
)

// AllEvents lists every event a session subscribes to.
var AllEvents = []EventName{
	EventCallStart, EventCallEnd,
	EventSpeechStart, EventSpeechEnd,
	EventUserSpeechStart, EventUserSpeechEnd,
	EventVolumeLevel,
	EventTranscript, EventUserTranscript, EventAssistantTranscript,
	EventMessage, EventError,
}

// Event is one notification from the transport.
type Event struct {
	Name EventName
	// Volume is set for volume-level events (0.0–1.0).
	Volume float64
	// Payload carries transcript, message and error bodies.
	Payload map[string]any
}

// Handler receives events. Handlers run on the transport's delivery goroutine.
type Handler func(Event)

// CallInfo is returned once the provider accepted a start request.
type CallInfo struct {
	ID string
}

// StartConfig describes the call to start.
type StartConfig struct {
	AssistantID string
	Contact     *models.ContactInfo
	Metadata    map[string]string
}

// Transport defines the interface for voice-assistant providers.
type Transport interface {
	// Start asks the provider for a new call and returns its id.
	// The call becomes live when call-start is emitted.
	Start(ctx context.Context, cfg StartConfig) (CallInfo, error)

	// Stop ends the current call. Safe to call when no call is live.
	Stop(ctx context.Context) error

	// Subscribe registers h for events named name.
	Subscribe(name EventName, h Handler) *Subscription
}

var sessionEndedMarkers = []string{
	"meeting has ended",
	"meeting ended",
	"ejected",
}

// ErrorMessage extracts a human-readable message from an error payload.
// Probes errorMsg, message, then error (string or {message}).
func ErrorMessage(payload map[string]any) string {
	for _, key := range []string{"errorMsg", "message"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	switch v := payload["error"].(type) {
	case string:
		return v
	case map[string]any:
		return ErrorMessage(v)
	}
	return ""
}

// IsSessionEnded reports whether an error payload only says the session is
// already over. Such errors are a normal end of call, not a failure.
func IsSessionEnded(payload map[string]any) bool {
	msg := strings.ToLower(ErrorMessage(payload))
	if msg == "" {
		return false
	}
	for _, marker := range sessionEndedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
