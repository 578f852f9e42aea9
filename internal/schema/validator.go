// Package schema validates outbound event payloads before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"ai-voice-session-service/internal/models"
)

// ErrUnknownEvent is returned for payload types without a schema.
var ErrUnknownEvent = errors.New("schema: unknown event type")

var analysisStatuses = map[string]bool{
	"SUCCEEDED": true,
	"EXHAUSTED": true,
	"FAILED":    true,
}

// ValidationError lists every violated field of one event.
type ValidationError struct {
	EventType string
	Problems  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: invalid %s event: %s", e.EventType, strings.Join(e.Problems, "; "))
}

// Validator checks events against the published contracts.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks a supported event value or pointer.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.ConversationEntryEvent:
		return v.conversationEntry(ev)
	case *models.ConversationEntryEvent:
		if ev == nil {
			return fmt.Errorf("%w: nil conversation entry", ErrUnknownEvent)
		}
		return v.conversationEntry(*ev)
	case models.CallAnalysisEvent:
		return v.callAnalysis(ev)
	case *models.CallAnalysisEvent:
		if ev == nil {
			return fmt.Errorf("%w: nil analysis event", ErrUnknownEvent)
		}
		return v.callAnalysis(*ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

func (v *Validator) conversationEntry(ev models.ConversationEntryEvent) error {
	var problems []string
	if ev.EventType != models.EventTypeConversationEntry {
		problems = append(problems, fmt.Sprintf("eventType must be %q", models.EventTypeConversationEntry))
	}
	if ev.CallID == "" {
		problems = append(problems, "callId is required")
	}
	if ev.Sequence < 1 {
		problems = append(problems, "sequence must be >= 1")
	}
	if ev.Speaker != models.SpeakerAssistant && ev.Speaker != models.SpeakerUser {
		problems = append(problems, "speaker must be assistant or user")
	}
	if strings.TrimSpace(ev.Text) == "" {
		problems = append(problems, "text is required")
	}
	if ev.Timestamp <= 0 {
		problems = append(problems, "timestamp is required")
	}
	return result(models.EventTypeConversationEntry, problems)
}

func (v *Validator) callAnalysis(ev models.CallAnalysisEvent) error {
	var problems []string
	if ev.EventType != models.EventTypeCallAnalysis {
		problems = append(problems, fmt.Sprintf("eventType must be %q", models.EventTypeCallAnalysis))
	}
	if ev.CallID == "" {
		problems = append(problems, "callId is required")
	}
	if !analysisStatuses[ev.Status] {
		problems = append(problems, fmt.Sprintf("status %q is not a terminal poll status", ev.Status))
	}
	if ev.Attempts < 0 {
		problems = append(problems, "attempts must be >= 0")
	}
	switch {
	case ev.Status == "SUCCEEDED" && ev.Summary == "":
		problems = append(problems, "summary is required when status is SUCCEEDED")
	case ev.Status != "SUCCEEDED" && ev.Error == "":
		problems = append(problems, "error is required when status is not SUCCEEDED")
	}
	if ev.Timestamp <= 0 {
		problems = append(problems, "timestamp is required")
	}
	return result(models.EventTypeCallAnalysis, problems)
}

func result(eventType string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{EventType: eventType, Problems: problems}
}
