package events

import (
	"context"
	"errors"
	"testing"

	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/schema"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerConversation != nil || p.writerAnalysis != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:           false,
		Brokers:           []string{"localhost:9092"},
		TopicConversation: "test.conversation",
		TopicAnalysis:     "test.analysis",
		Principal:         "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicConversation != "test.conversation" {
		t.Errorf("expected topic 'test.conversation', got %s", p.topicConversation)
	}
	if p.topicAnalysis != "test.analysis" {
		t.Errorf("expected topic 'test.analysis', got %s", p.topicAnalysis)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:           true,
		Brokers:           []string{"localhost:9092"},
		TopicConversation: "calls.conversation",
		TopicAnalysis:     "calls.analysis",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerConversation.Topic != "calls.conversation" {
		t.Errorf("unexpected conversation topic %s", p.writerConversation.Topic)
	}
	if p.writerAnalysis.Topic != "calls.analysis" {
		t.Errorf("unexpected analysis topic %s", p.writerAnalysis.Topic)
	}
}

func TestPublisher_PublishConversation_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicConversation: "test.conversation"})

	ev := models.ConversationEntryEvent{
		EventType: models.EventTypeConversationEntry,
		CallID:    "call-1",
		Sequence:  1,
		Speaker:   models.SpeakerUser,
		Text:      "hello",
		Timestamp: 1700000000000,
	}
	if err := p.PublishConversation(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishAnalysis_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicAnalysis: "test.analysis"})

	ev := models.CallAnalysisEvent{
		EventType:      models.EventTypeCallAnalysis,
		CallID:         "call-1",
		Status:         "SUCCEEDED",
		Attempts:       4,
		Summary:        "ok",
		StructuredData: map[string]any{"is_qualified": true},
		Timestamp:      1700000000000,
	}
	if err := p.PublishAnalysis(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Channels cannot be marshaled
	ev := models.CallAnalysisEvent{
		EventType:      models.EventTypeCallAnalysis,
		StructuredData: map[string]any{"bad": make(chan int)},
	}
	if err := p.PublishAnalysis(context.Background(), ev); err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_ValidatorRejects(t *testing.T) {
	p := New(&Config{Enabled: false}, WithValidator(schema.New()))

	err := p.PublishConversation(context.Background(), models.ConversationEntryEvent{CallID: "call-1"})

	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPublisher_ValidatorAccepts(t *testing.T) {
	p := New(&Config{Enabled: false}, WithValidator(schema.New()))

	ev := models.CallAnalysisEvent{
		EventType: models.EventTypeCallAnalysis,
		CallID:    "call-1",
		Status:    "EXHAUSTED",
		Attempts:  12,
		Error:     "analysis not ready after 12 attempts",
		Timestamp: 1700000000000,
	}
	if err := p.PublishAnalysis(context.Background(), ev); err != nil {
		t.Errorf("expected valid event to pass, got %v", err)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
