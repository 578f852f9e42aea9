// Package transcript folds incremental speech-to-text fragments into a
// conversation log.
package transcript

import (
	"strings"
	"time"

	"ai-voice-session-service/internal/models"
)

// Hint is the speaker implied by the event a fragment arrived on.
type Hint int

const (
	HintNone Hint = iota
	HintUser
	HintAssistant
)

// Field names probed on fragment payloads, in priority order.
var (
	speakerFields = []string{"role", "speaker"}
	textFields    = []string{"transcript", "text", "content"}
	finalFields   = []string{"isFinal", "is_final", "final"}
)

// Normalize maps a transport payload to a canonical fragment.
//
// Speaker resolution order:
//  1. hint (from the event name, e.g. user-transcript)
//  2. "role" or "speaker" string field
//  3. boolean "user" field
//  4. assistant
//
// Returns false when no recognized field carries usable text.
func Normalize(hint Hint, payload map[string]any, observedAt time.Time) (models.TranscriptFragment, bool) {
	text, ok := firstString(payload, textFields)
	if !ok {
		return models.TranscriptFragment{}, false
	}

	return models.TranscriptFragment{
		Speaker:    resolveSpeaker(hint, payload),
		Text:       text,
		IsFinal:    resolveFinal(payload),
		ObservedAt: observedAt,
	}, true
}

func resolveSpeaker(hint Hint, payload map[string]any) models.Speaker {
	switch hint {
	case HintUser:
		return models.SpeakerUser
	case HintAssistant:
		return models.SpeakerAssistant
	}

	for _, key := range speakerFields {
		if v, ok := payload[key].(string); ok {
			if s, ok := ParseSpeaker(v); ok {
				return s
			}
		}
	}

	if v, ok := payload["user"].(bool); ok {
		if v {
			return models.SpeakerUser
		}
		return models.SpeakerAssistant
	}

	return models.SpeakerAssistant
}

// ParseSpeaker maps a provider role name to a speaker.
func ParseSpeaker(role string) (models.Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "customer", "human", "caller":
		return models.SpeakerUser, true
	case "assistant", "bot", "agent", "ai":
		return models.SpeakerAssistant, true
	default:
		return models.SpeakerAssistant, false
	}
}

func resolveFinal(payload map[string]any) bool {
	for _, key := range finalFields {
		if v, ok := payload[key].(bool); ok {
			return v
		}
	}
	if v, ok := payload["transcriptType"].(string); ok {
		return strings.EqualFold(v, "final")
	}
	return false
}

func firstString(payload map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		v, ok := payload[key].(string)
		if !ok {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}
